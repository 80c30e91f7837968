package server

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/microkv/microkv/internal/protocol"
	"github.com/microkv/microkv/internal/store"
)

// CommandError reports a client mistake: unknown command, bad request
// shape, or bad arity. It is answered with an error reply and never
// terminates the connection.
type CommandError struct {
	msg string
}

func commandErrorf(format string, args ...interface{}) *CommandError {
	return &CommandError{msg: fmt.Sprintf(format, args...)}
}

func (e *CommandError) Error() string { return e.msg }

// handlerFunc runs one command against the store. Arity is enforced inside
// the handler, not declared separately.
type handlerFunc func(args []string) (protocol.Value, error)

// commandTable is the fixed registry of command name to handler, bound to
// one store at construction.
type commandTable struct {
	store    *store.Store
	commands map[string]handlerFunc
}

func newCommandTable(st *store.Store) *commandTable {
	t := &commandTable{store: st}
	t.commands = map[string]handlerFunc{
		"GET":    t.get,
		"SET":    t.set,
		"DELETE": t.delete,
		"FLUSH":  t.flush,
		"MGET":   t.mget,
		"MSET":   t.mset,
		"PING":   t.ping,
		"ECHO":   t.echo,
		"DBSIZE": t.dbsize,
	}
	return t
}

// Dispatch resolves the request into a command invocation and returns the
// reply to encode. Client mistakes come back as error-tagged values; the
// connection always gets exactly one reply. The returned name is the
// resolved command; it is "" unless the name exists in the table, so
// client-chosen strings never leak into metric labels.
func (t *commandTable) Dispatch(req protocol.Value) (string, protocol.Value) {
	tokens, err := requestTokens(req)
	if err != nil {
		return "", protocol.ErrorValue(err.Error())
	}

	name := strings.ToUpper(tokens[0])
	handler, ok := t.commands[name]
	if !ok {
		return "", protocol.ErrorValue("Unrecognized command: " + name)
	}

	reply, err := handler(tokens[1:])
	if err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) {
			return name, protocol.ErrorValue(cmdErr.Error())
		}
		return name, protocol.ErrorValue(err.Error())
	}
	return name, reply
}

// requestTokens flattens a request into positional tokens. Arrays are the
// canonical form; a simple string is whitespace-split shorthand.
func requestTokens(req protocol.Value) ([]string, error) {
	if req.Null {
		return nil, commandErrorf("Request must be list or simple string")
	}

	var tokens []string
	switch req.Type {
	case protocol.TypeArray:
		tokens = make([]string, 0, len(req.Array))
		for _, elem := range req.Array {
			tok, err := argText(elem)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, tok)
		}
	case protocol.TypeSimpleString:
		tokens = strings.Fields(req.Str)
	default:
		return nil, commandErrorf("Request must be list or simple string")
	}

	if len(tokens) == 0 {
		return nil, commandErrorf("Missing command")
	}
	return tokens, nil
}

// argText extracts the textual payload of a scalar argument.
func argText(v protocol.Value) (string, error) {
	if v.Null {
		return "", nil
	}
	switch v.Type {
	case protocol.TypeBulkString, protocol.TypeSimpleString, protocol.TypeError:
		return v.Str, nil
	case protocol.TypeInteger:
		return strconv.FormatInt(v.Num, 10), nil
	default:
		return "", commandErrorf("Request arguments must be scalar")
	}
}

func (t *commandTable) get(args []string) (protocol.Value, error) {
	if len(args) != 1 {
		return protocol.Value{}, commandErrorf("wrong number of arguments for 'GET' command")
	}
	value, ok := t.store.Get(args[0])
	if !ok {
		return protocol.Null(), nil
	}
	return protocol.BulkString(value), nil
}

func (t *commandTable) set(args []string) (protocol.Value, error) {
	if len(args) != 2 {
		return protocol.Value{}, commandErrorf("wrong number of arguments for 'SET' command")
	}
	t.store.Set(args[0], []byte(args[1]))
	return protocol.Integer(1), nil
}

func (t *commandTable) delete(args []string) (protocol.Value, error) {
	if len(args) != 1 {
		return protocol.Value{}, commandErrorf("wrong number of arguments for 'DELETE' command")
	}
	if t.store.Delete(args[0]) {
		return protocol.Integer(1), nil
	}
	return protocol.Integer(0), nil
}

func (t *commandTable) flush(args []string) (protocol.Value, error) {
	if len(args) != 0 {
		return protocol.Value{}, commandErrorf("wrong number of arguments for 'FLUSH' command")
	}
	return protocol.Integer(int64(t.store.Flush())), nil
}

func (t *commandTable) mget(args []string) (protocol.Value, error) {
	results := t.store.MGet(args...)
	elems := make([]protocol.Value, len(results))
	for i, res := range results {
		if res.Found {
			elems[i] = protocol.BulkString(res.Value)
		} else {
			elems[i] = protocol.Null()
		}
	}
	return protocol.ArrayValue(elems...), nil
}

func (t *commandTable) mset(args []string) (protocol.Value, error) {
	if len(args)%2 != 0 {
		return protocol.Value{}, commandErrorf("MSET requires an even number of arguments")
	}
	pairs := make([]store.Pair, 0, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		pairs = append(pairs, store.Pair{Key: args[i], Value: []byte(args[i+1])})
	}
	return protocol.Integer(int64(t.store.MSet(pairs...))), nil
}

func (t *commandTable) ping(args []string) (protocol.Value, error) {
	switch len(args) {
	case 0:
		return protocol.SimpleString("PONG"), nil
	case 1:
		return protocol.BulkString([]byte(args[0])), nil
	default:
		return protocol.Value{}, commandErrorf("wrong number of arguments for 'PING' command")
	}
}

func (t *commandTable) echo(args []string) (protocol.Value, error) {
	if len(args) != 1 {
		return protocol.Value{}, commandErrorf("wrong number of arguments for 'ECHO' command")
	}
	return protocol.BulkString([]byte(args[0])), nil
}

func (t *commandTable) dbsize(args []string) (protocol.Value, error) {
	if len(args) != 0 {
		return protocol.Value{}, commandErrorf("wrong number of arguments for 'DBSIZE' command")
	}
	return protocol.Integer(int64(t.store.Len())), nil
}
