package framing

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func frame(docs ...string) string {
	var b bytes.Buffer
	for _, doc := range docs {
		b.Write(Header(len(doc)))
		b.WriteString(doc)
	}
	return b.String()
}

func TestSplitLength(t *testing.T) {
	for _, tc := range []struct {
		name    string
		input   string
		max     int
		want    []string
		wantErr error
		wantCB  int
	}{
		{name: "empty"},
		{name: "one", input: frame("<epp/>"), want: []string{"<epp/>"}, wantCB: 1},
		{
			name:   "three",
			input:  frame("<epp><hello/></epp>", "<epp/>", strings.Repeat("x", 5000)),
			want:   []string{"<epp><hello/></epp>", "<epp/>", strings.Repeat("x", 5000)},
			wantCB: 3,
		},
		{name: "short header", input: "\x00\x00", wantErr: io.ErrUnexpectedEOF},
		{name: "truncated document", input: frame("<epp/>")[:8], wantErr: io.ErrUnexpectedEOF},
		{
			name:    "zero length document",
			input:   "\x00\x00\x00\x04",
			wantErr: ErrBadLength{Message: "no document", Length: 4},
		},
		{
			name:    "too large",
			input:   frame(strings.Repeat("y", 64)),
			max:     32,
			wantErr: ErrBadLength{Message: "exceeds maximum 32", Length: 68},
		},
	} {
		for _, bufsize := range []int{16, 64, 4096} {
			t.Run(fmt.Sprintf("%s/%d", tc.name, bufsize), func(t *testing.T) {
				a := assert.New(t)
				var gotCB int
				max := tc.max
				if max == 0 {
					max = 1 << 16
				}
				s := bufio.NewScanner(strings.NewReader(tc.input))
				s.Buffer(make([]byte, bufsize), max)
				s.Split(SplitLength(max, func() { gotCB++ }))
				var got []string
				for s.Scan() {
					got = append(got, s.Text())
				}
				a.Equal(tc.want, got)
				a.Equal(tc.wantErr, s.Err())
				a.Equal(tc.wantCB, gotCB)
			})
		}
	}
}

func TestWrite(t *testing.T) {
	a := assert.New(t)
	b := &bytes.Buffer{}
	n, err := Write(b, []byte("<epp/>"))
	a.NoError(err)
	a.Equal(6, n)
	a.Equal("\x00\x00\x00\x0a<epp/>", b.String())
}

type shortWriter struct{}

func (shortWriter) Write(b []byte) (int, error) { return 2, nil }

func TestWriteShort(t *testing.T) {
	a := assert.New(t)
	n, err := Write(shortWriter{}, []byte("<epp/>"))
	a.Equal(io.ErrShortWrite, err)
	a.Equal(0, n)
}

func TestErrBadLength(t *testing.T) {
	assert.New(t).Equal("epp bad data unit length: no document (3)", ErrBadLength{Message: "no document", Length: 3}.Error())
	assert.New(t).Equal("epp bad data unit length (3)", ErrBadLength{Length: 3}.Error())
}
