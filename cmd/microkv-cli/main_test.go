package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/microkv/microkv/internal/protocol"
)

func renderReply(v protocol.Value) string {
	var sb strings.Builder
	fprintReply(&sb, v)
	return sb.String()
}

func TestFprintReply_Scalars(t *testing.T) {
	assert.Equal(t, "(nil)\n", renderReply(protocol.Null()))
	assert.Equal(t, "42\n", renderReply(protocol.Integer(42)))
	assert.Equal(t, "PONG\n", renderReply(protocol.SimpleString("PONG")))
	assert.Equal(t, "bar\n", renderReply(protocol.BulkString([]byte("bar"))))
}

func TestFprintReply_ArrayNumbersFromOne(t *testing.T) {
	v := protocol.ArrayValue(
		protocol.BulkString([]byte("valueA")),
		protocol.Null(),
		protocol.BulkString([]byte("valueC")),
	)

	assert.Equal(t, "1) valueA\n2) (nil)\n3) valueC\n", renderReply(v))
}

func TestFprintReply_Map(t *testing.T) {
	v := protocol.MapValue(
		protocol.MapEntry{Key: protocol.BulkString([]byte("k")), Value: protocol.Integer(1)},
	)

	assert.Equal(t, "k\n => 1\n", renderReply(v))
}
