package communicator

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/seantiz/dutharness/internal/model"
)

func TestWriteReadCommand(t *testing.T) {
	original := Command{Type: CmdConfigure, Name: "echo", Args: []string{"a", "b"}}

	var buf bytes.Buffer
	if err := WriteMessage(&buf, &original); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	var decoded Command
	if err := ReadMessage(&buf, &decoded); err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}

	if decoded.Type != original.Type {
		t.Errorf("Type = %q, want %q", decoded.Type, original.Type)
	}
	if decoded.Name != original.Name {
		t.Errorf("Name = %q, want %q", decoded.Name, original.Name)
	}
	if strings.Join(decoded.Args, ",") != "a,b" {
		t.Errorf("Args = %v, want [a b]", decoded.Args)
	}
}

func TestWriteReadReportMessage(t *testing.T) {
	original := Message{
		Type:   MsgTypeReport,
		Report: &model.Report{RunID: "r1", Status: model.StatusFinished, Data: "ok", Seq: 3},
	}

	var buf bytes.Buffer
	if err := WriteMessage(&buf, &original); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	var decoded Message
	if err := ReadMessage(&buf, &decoded); err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}

	if decoded.Report == nil {
		t.Fatal("Report is nil")
	}
	if decoded.Report.Status != model.StatusFinished || decoded.Report.Seq != 3 {
		t.Errorf("Report = %+v, want finished seq 3", decoded.Report)
	}
}

func TestWriteMessageFrame(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMessage(&buf, Command{Type: CmdStart}); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	raw := buf.Bytes()
	length := binary.BigEndian.Uint32(raw[:4])
	if int(length) != len(raw)-4 {
		t.Errorf("length prefix = %d, want %d", length, len(raw)-4)
	}
	if string(raw[4:]) != `{"type":"start"}` {
		t.Errorf("payload = %s, want {\"type\":\"start\"}", raw[4:])
	}
}

func TestReadMessageTooLarge(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, uint32(MaxMessageSize+1))

	var cmd Command
	err := ReadMessage(&buf, &cmd)
	if err == nil || !strings.Contains(err.Error(), "exceeds maximum") {
		t.Errorf("ReadMessage error = %v, want size error", err)
	}
}

func TestReadMessageTruncated(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, uint32(100))
	buf.WriteString(`{"type":`)

	var cmd Command
	if err := ReadMessage(&buf, &cmd); err == nil {
		t.Error("ReadMessage succeeded on a truncated frame, want error")
	}
}

func TestReadMessageInvalidJSON(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, uint32(8))
	buf.WriteString("not json")

	var cmd Command
	if err := ReadMessage(&buf, &cmd); err == nil || !strings.Contains(err.Error(), "unmarshal") {
		t.Errorf("ReadMessage error = %v, want unmarshal error", err)
	}
}
