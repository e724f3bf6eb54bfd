package tape

import (
	"path/filepath"
	"reflect"
	"testing"
)

func TestRecorderCaptureThenReplayMatchesLiveOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.tape")

	fw, err := NewFileWriter(path)
	if err != nil {
		t.Fatalf("NewFileWriter failed: %v", err)
	}
	rec := NewRecorder()
	rec.Register(fw)

	type delivery struct {
		cport uint16
		data  []byte
	}
	live := []delivery{
		{cport: 1, data: []byte("ping")},
		{cport: 2, data: []byte{0x01, 0x02, 0x03}},
		{cport: 1, data: []byte("pong")},
	}
	for _, d := range live {
		rec.Capture(d.cport, d.data)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	var replayed []delivery
	err = Replay(path, func(cportID uint16, data []byte) {
		replayed = append(replayed, delivery{cport: cportID, data: append([]byte(nil), data...)})
	})
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}

	if len(replayed) != len(live) {
		t.Fatalf("replayed %d frames, want %d", len(replayed), len(live))
	}
	for i := range live {
		if replayed[i].cport != live[i].cport || !reflect.DeepEqual(replayed[i].data, live[i].data) {
			t.Errorf("frame %d = %+v, want %+v", i, replayed[i], live[i])
		}
	}
}

func TestInactiveRecorderDropsFramesSilently(t *testing.T) {
	rec := NewRecorder()
	if rec.Active() {
		t.Error("a fresh Recorder should not be Active")
	}
	rec.Capture(1, []byte("no backend registered"))
	if err := rec.Close(); err != nil {
		t.Errorf("Close on an inactive recorder should be a no-op, got %v", err)
	}
}

func TestZeroLengthFrameRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.tape")
	fw, err := NewFileWriter(path)
	if err != nil {
		t.Fatalf("NewFileWriter failed: %v", err)
	}
	if err := fw.WriteFrame(5, nil); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	if err := fw.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	records, err := ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(records) != 1 || records[0].CPort != 5 || len(records[0].Data) != 0 {
		t.Errorf("records = %+v, want one zero-length record for cport 5", records)
	}
}
