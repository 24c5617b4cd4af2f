package runtime

import (
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"
)

func TestEOFReaderSignalsOnce(t *testing.T) {
	r := newEOFReader(strings.NewReader("tar stream"))

	select {
	case <-r.eof:
		t.Fatal("eof closed before reading")
	default:
	}

	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "tar stream" {
		t.Errorf("read %q", data)
	}

	<-r.eof

	// A second EOF must not close the channel again.
	if _, err := r.Read(make([]byte, 1)); err != io.EOF {
		t.Errorf("err = %v, want EOF", err)
	}
}

func TestEOFReaderIgnoresOtherErrors(t *testing.T) {
	boom := errors.New("boom")
	r := newEOFReader(iotest.ErrReader(boom))

	if _, err := r.Read(make([]byte, 1)); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	select {
	case <-r.eof:
		t.Fatal("eof closed on a non-EOF error")
	default:
	}
}

func TestTailBuffer(t *testing.T) {
	tests := []struct {
		name   string
		max    int
		writes []string
		want   string
	}{
		{"fits", 16, []string{"error: ", "linker failed"}, "error: linker failed"},
		{"drops oldest", 8, []string{"abcdef", "ghij"}, "...cdefghij"},
		{"single oversized write", 4, []string{"compiling serde"}, "...erde"},
		{"exactly full", 4, []string{"ab", "cd"}, "abcd"},
		{"empty", 4, nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTailBuffer(tt.max)
			for _, w := range tt.writes {
				n, err := b.Write([]byte(w))
				if err != nil || n != len(w) {
					t.Fatalf("Write(%q) = %d, %v", w, n, err)
				}
			}
			if got := b.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}
