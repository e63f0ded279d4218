// internal/object/encode.go
package object

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrMalformed is returned when commit bytes cannot be decoded.
var ErrMalformed = errors.New("malformed commit object")

// Encode produces the canonical byte encoding of every field except the id.
// The layout is git's commit object body.
func Encode(c *Commit) []byte {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "tree %s\n", c.Tree)
	for _, p := range c.Parents {
		fmt.Fprintf(&buf, "parent %s\n", p)
	}
	buf.WriteString("author ")
	encodeSignature(&buf, c.Author)
	buf.WriteString("\ncommitter ")
	encodeSignature(&buf, c.Committer)

	if c.Encoding != "" {
		fmt.Fprintf(&buf, "\nencoding %s", c.Encoding)
	}
	if c.MergeTag != "" {
		// continuation lines carry a single leading space
		lines := strings.Split(strings.TrimSuffix(c.MergeTag, "\n"), "\n")
		buf.WriteString("\nmergetag ")
		buf.WriteString(strings.Join(lines, "\n "))
	}

	buf.WriteString("\n\n")
	buf.WriteString(c.Message)
	return buf.Bytes()
}

func encodeSignature(buf *bytes.Buffer, s Signature) {
	fmt.Fprintf(buf, "%s <%s> ", s.Name, s.Email)
	u := s.When.Unix()
	if u < 0 {
		u = 0
	}
	fmt.Fprintf(buf, "%d %s", u, s.When.Format("-0700"))
}

// Hash derives the id of c from its canonical encoding.
func Hash(c *Commit) ID {
	return HashEncoded(Encode(c))
}

// HashEncoded derives an id from an already encoded commit body.
func HashEncoded(body []byte) ID {
	h := sha1.New()
	fmt.Fprintf(h, "commit %d\x00", len(body))
	h.Write(body)
	return ID(hex.EncodeToString(h.Sum(nil)))
}

// Decode parses a canonical encoding. The returned commit carries the id of
// the bytes it was decoded from.
func Decode(data []byte) (*Commit, error) {
	c, _, err := decode(data, false)
	return c, err
}

// DecodeStored decodes an object read from a store that may carry headers
// the model does not represent, such as gpgsig. Those headers are dropped
// and their names returned. The commit keeps the id of data, so re-encoding
// it yields a different id when anything was dropped.
func DecodeStored(data []byte) (*Commit, []string, error) {
	return decode(data, true)
}

func decode(data []byte, lenient bool) (*Commit, []string, error) {
	c := &Commit{ID: HashEncoded(data)}
	var dropped []string

	headerEnd := bytes.Index(data, []byte("\n\n"))
	if headerEnd < 0 {
		return nil, nil, fmt.Errorf("%w: missing message separator", ErrMalformed)
	}
	c.Message = string(data[headerEnd+2:])

	var (
		key   string
		value strings.Builder
		seen  bool
	)
	flush := func() error {
		if !seen {
			return nil
		}
		if lenient && !knownHeaders[key] {
			dropped = append(dropped, key)
			return nil
		}
		return c.setHeader(key, value.String())
	}

	for _, line := range strings.Split(string(data[:headerEnd]), "\n") {
		if strings.HasPrefix(line, " ") {
			if !seen {
				return nil, nil, fmt.Errorf("%w: continuation before header", ErrMalformed)
			}
			value.WriteByte('\n')
			value.WriteString(line[1:])
			continue
		}
		if err := flush(); err != nil {
			return nil, nil, err
		}
		k, v, ok := strings.Cut(line, " ")
		if !ok {
			return nil, nil, fmt.Errorf("%w: header %q", ErrMalformed, line)
		}
		key, seen = k, true
		value.Reset()
		value.WriteString(v)
	}
	if err := flush(); err != nil {
		return nil, nil, err
	}

	if c.Tree.IsZero() {
		return nil, nil, fmt.Errorf("%w: missing tree", ErrMalformed)
	}
	return c, dropped, nil
}

var knownHeaders = map[string]bool{
	"tree": true, "parent": true, "author": true, "committer": true, "encoding": true, "mergetag": true,
}

func (c *Commit) setHeader(key, value string) error {
	var err error
	switch key {
	case "tree":
		c.Tree, err = ParseID(value)
	case "parent":
		var p ID
		if p, err = ParseID(value); err == nil {
			c.Parents = append(c.Parents, p)
		}
	case "author":
		c.Author, err = decodeSignature(value)
	case "committer":
		c.Committer, err = decodeSignature(value)
	case "encoding":
		c.Encoding = value
	case "mergetag":
		c.MergeTag = value + "\n"
	default:
		return fmt.Errorf("%w: unsupported header %q", ErrMalformed, key)
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, key, err)
	}
	return nil
}

func decodeSignature(s string) (Signature, error) {
	open := strings.LastIndex(s, " <")
	closing := strings.LastIndex(s, "> ")
	if open < 0 || closing < open {
		return Signature{}, fmt.Errorf("bad signature %q", s)
	}
	sig := Signature{
		Name:  s[:open],
		Email: s[open+2 : closing],
	}

	fields := strings.Fields(s[closing+2:])
	if len(fields) != 2 {
		return Signature{}, fmt.Errorf("bad signature time %q", s)
	}
	secs, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return Signature{}, fmt.Errorf("bad timestamp: %w", err)
	}
	loc, err := parseZone(fields[1])
	if err != nil {
		return Signature{}, err
	}
	sig.When = time.Unix(secs, 0).In(loc)
	return sig, nil
}

func parseZone(tz string) (*time.Location, error) {
	if len(tz) != 5 || (tz[0] != '+' && tz[0] != '-') {
		return nil, fmt.Errorf("bad timezone %q", tz)
	}
	hours, err := strconv.Atoi(tz[1:3])
	if err != nil {
		return nil, fmt.Errorf("bad timezone %q", tz)
	}
	minutes, err := strconv.Atoi(tz[3:5])
	if err != nil {
		return nil, fmt.Errorf("bad timezone %q", tz)
	}
	offset := hours*3600 + minutes*60
	if tz[0] == '-' {
		offset = -offset
	}
	return time.FixedZone("", offset), nil
}
