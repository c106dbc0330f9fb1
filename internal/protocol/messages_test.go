package protocol

import (
	"encoding/json"
	"testing"
	"time"

	flickerrors "github.com/conneroisu/flick/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"compile-request","dartCode":"void main(){}","moduleName":"m1","requestId":"r1"}`))
	require.NoError(t, err)
	assert.Equal(t, TypeCompileRequest, msg.Type)
	assert.Equal(t, "void main(){}", msg.DartCode)
	assert.Equal(t, "m1", msg.ModuleName)
	assert.Equal(t, "r1", msg.RequestID)
}

func TestDecodeMalformed(t *testing.T) {
	for name, frame := range map[string]string{
		"not json":     "hello",
		"array":        `[1,2]`,
		"missing type": `{"moduleId":"x"}`,
		"numeric type": `{"type":5}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(frame))
			require.Error(t, err)
			assert.True(t, flickerrors.IsKind(err, flickerrors.KindMalformedMessage))
		})
	}
}

func TestFileEventOmitsContentWhenDeleted(t *testing.T) {
	at := time.UnixMilli(1700000000123)

	data, err := json.Marshal(NewFileEvent(TypeFileDeleted, "lib/foo.dart", nil, at))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"file_deleted","file":"lib/foo.dart","timestamp":1700000000123}`, string(data))

	content := ""
	data, err = json.Marshal(NewFileEvent(TypeHotReload, "lib/main.dart", &content, at))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"hot_reload","file":"lib/main.dart","content":"","timestamp":1700000000123}`, string(data))
}

func TestModuleDataEncodesBytecodeAsBase64(t *testing.T) {
	data, err := json.Marshal(ModuleData{Type: TypeModuleData, RequestID: "r1", ModuleID: "m_1", Bytecode: []byte{0x01, 0x02, 0xff}})
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "AQL/", decoded["bytecode"])
	assert.Equal(t, "r1", decoded["requestId"])
}
