package server

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microkv/microkv/internal/protocol"
	"github.com/microkv/microkv/internal/store"
)

func request(args ...string) protocol.Value {
	elems := make([]protocol.Value, len(args))
	for i, a := range args {
		elems[i] = protocol.BulkString([]byte(a))
	}
	return protocol.ArrayValue(elems...)
}

func TestDispatch_SetGet(t *testing.T) {
	table := newCommandTable(store.New())

	name, reply := table.Dispatch(request("SET", "foo", "bar"))
	assert.Equal(t, "SET", name)
	assert.Equal(t, protocol.Integer(1), reply)

	name, reply = table.Dispatch(request("GET", "foo"))
	assert.Equal(t, "GET", name)
	assert.Equal(t, protocol.BulkString([]byte("bar")), reply)
}

func TestDispatch_GetMissingIsNull(t *testing.T) {
	table := newCommandTable(store.New())

	_, reply := table.Dispatch(request("GET", "absent"))
	assert.True(t, reply.Null)
}

func TestDispatch_CaseInsensitive(t *testing.T) {
	table := newCommandTable(store.New())

	_, reply := table.Dispatch(request("set", "k", "v"))
	assert.Equal(t, protocol.Integer(1), reply)

	_, reply = table.Dispatch(request("gEt", "k"))
	assert.Equal(t, protocol.BulkString([]byte("v")), reply)
}

func TestDispatch_SimpleStringShorthand(t *testing.T) {
	table := newCommandTable(store.New())

	_, reply := table.Dispatch(protocol.SimpleString("SET foo bar"))
	assert.Equal(t, protocol.Integer(1), reply)

	_, reply = table.Dispatch(protocol.SimpleString("GET foo"))
	assert.Equal(t, protocol.BulkString([]byte("bar")), reply)
}

func TestDispatch_RejectsOtherShapes(t *testing.T) {
	table := newCommandTable(store.New())

	for _, req := range []protocol.Value{
		protocol.Integer(7),
		protocol.BulkString([]byte("GET foo")),
		protocol.Null(),
		protocol.MapValue(),
	} {
		_, reply := table.Dispatch(req)
		require.Equal(t, byte(protocol.TypeError), reply.Type)
		assert.Equal(t, "Request must be list or simple string", reply.Str)
	}
}

func TestDispatch_MissingCommand(t *testing.T) {
	table := newCommandTable(store.New())

	_, reply := table.Dispatch(request())
	assert.Equal(t, protocol.ErrorValue("Missing command"), reply)

	_, reply = table.Dispatch(protocol.SimpleString("   "))
	assert.Equal(t, protocol.ErrorValue("Missing command"), reply)
}

func TestDispatch_UnrecognizedCommand(t *testing.T) {
	table := newCommandTable(store.New())

	name, reply := table.Dispatch(request("wat", "x"))
	assert.Empty(t, name)
	assert.Equal(t, protocol.ErrorValue("Unrecognized command: WAT"), reply)
}

func TestDispatch_UnrecognizedNamesNeverResolve(t *testing.T) {
	table := newCommandTable(store.New())

	// Client-chosen strings must not come back as resolved names, or each
	// one would mint a fresh per-command metric label.
	for i := 0; i < 1000; i++ {
		name, reply := table.Dispatch(request(fmt.Sprintf("GARBAGE%d", i)))
		require.Empty(t, name)
		require.Equal(t, byte(protocol.TypeError), reply.Type)
	}
}

func TestDispatch_Delete(t *testing.T) {
	table := newCommandTable(store.New())

	_, reply := table.Dispatch(request("DELETE", "k"))
	assert.Equal(t, protocol.Integer(0), reply)

	table.Dispatch(request("SET", "k", "v"))
	_, reply = table.Dispatch(request("DELETE", "k"))
	assert.Equal(t, protocol.Integer(1), reply)

	_, reply = table.Dispatch(request("GET", "k"))
	assert.True(t, reply.Null)
}

func TestDispatch_Flush(t *testing.T) {
	table := newCommandTable(store.New())

	table.Dispatch(request("SET", "a", "1"))
	table.Dispatch(request("SET", "b", "2"))

	_, reply := table.Dispatch(request("FLUSH"))
	assert.Equal(t, protocol.Integer(2), reply)

	_, reply = table.Dispatch(request("FLUSH"))
	assert.Equal(t, protocol.Integer(0), reply)
}

func TestDispatch_MGetPreservesOrder(t *testing.T) {
	table := newCommandTable(store.New())

	table.Dispatch(request("SET", "a", "valueA"))
	table.Dispatch(request("SET", "c", "valueC"))

	_, reply := table.Dispatch(request("MGET", "a", "b", "c"))
	require.Equal(t, byte(protocol.TypeArray), reply.Type)
	require.Len(t, reply.Array, 3)
	assert.Equal(t, "valueA", reply.Array[0].Str)
	assert.True(t, reply.Array[1].Null)
	assert.Equal(t, "valueC", reply.Array[2].Str)
}

func TestDispatch_MSet(t *testing.T) {
	table := newCommandTable(store.New())

	_, reply := table.Dispatch(request("MSET", "k1", "v1", "k2", "v2"))
	assert.Equal(t, protocol.Integer(2), reply)

	_, reply = table.Dispatch(request("GET", "k2"))
	assert.Equal(t, "v2", reply.Str)
}

func TestDispatch_MSetOddArityLeavesStoreUnchanged(t *testing.T) {
	st := store.New()
	table := newCommandTable(st)

	table.Dispatch(request("SET", "existing", "before"))

	_, reply := table.Dispatch(request("MSET", "k1", "v1", "k2"))
	require.Equal(t, byte(protocol.TypeError), reply.Type)
	assert.Equal(t, "MSET requires an even number of arguments", reply.Str)

	assert.Equal(t, 1, st.Len())
	v, ok := st.Get("existing")
	require.True(t, ok)
	assert.Equal(t, []byte("before"), v)
}

func TestDispatch_ArityErrors(t *testing.T) {
	table := newCommandTable(store.New())

	cases := [][]string{
		{"GET"},
		{"GET", "a", "b"},
		{"SET", "only-key"},
		{"DELETE"},
		{"FLUSH", "extra"},
		{"ECHO"},
		{"DBSIZE", "extra"},
		{"PING", "a", "b"},
	}
	for _, args := range cases {
		_, reply := table.Dispatch(request(args...))
		assert.Equal(t, byte(protocol.TypeError), reply.Type, "args: %v", args)
	}
}

func TestDispatch_PingEchoDBSize(t *testing.T) {
	table := newCommandTable(store.New())

	_, reply := table.Dispatch(request("PING"))
	assert.Equal(t, protocol.SimpleString("PONG"), reply)

	_, reply = table.Dispatch(request("PING", "hey"))
	assert.Equal(t, protocol.BulkString([]byte("hey")), reply)

	_, reply = table.Dispatch(request("ECHO", "hello"))
	assert.Equal(t, protocol.BulkString([]byte("hello")), reply)

	table.Dispatch(request("SET", "a", "1"))
	_, reply = table.Dispatch(request("DBSIZE"))
	assert.Equal(t, protocol.Integer(1), reply)
}

func TestDispatch_IntegerArgumentsAreStringified(t *testing.T) {
	table := newCommandTable(store.New())

	req := protocol.ArrayValue(
		protocol.BulkString([]byte("SET")),
		protocol.BulkString([]byte("n")),
		protocol.Integer(42),
	)
	_, reply := table.Dispatch(req)
	assert.Equal(t, protocol.Integer(1), reply)

	_, reply = table.Dispatch(request("GET", "n"))
	assert.Equal(t, "42", reply.Str)
}
