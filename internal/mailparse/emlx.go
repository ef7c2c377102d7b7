// Package mailparse turns a message file on disk into the fields the
// store needs. It understands Apple Mail's .emlx framing (a decimal byte
// count, the RFC 822 message, then a plist trailer of Mail.app flags) as
// well as bare .eml input.
package mailparse

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// splitEmlx separates a .emlx file's bytes into the RFC 822 message and
// the trailing plist, if any. When the first line isn't a valid byte
// count, the whole input is treated as a bare RFC 822 message (so .eml
// fixtures parse the same way).
func splitEmlx(raw []byte) (message []byte, plist []byte) {
	nl := bytes.IndexByte(raw, '\n')
	if nl < 0 {
		return raw, nil
	}
	firstLine := bytes.TrimSpace(raw[:nl])
	count, err := strconv.Atoi(string(firstLine))
	if err != nil || count <= 0 || nl+1+count > len(raw) {
		return raw, nil
	}
	message = raw[nl+1 : nl+1+count]
	plist = raw[nl+1+count:]
	return message, plist
}

var flagsKeyRe = regexp.MustCompile(`<key>flags</key>\s*<integer>(\d+)</integer>`)

// readFlags extracts Mail.app's "flags" integer from a plist trailer by
// pattern matching rather than a full plist decoder; any miss (binary
// plist, missing key, no trailer) leaves flags at zero instead of
// failing the message.
func readFlags(plist []byte) int64 {
	m := flagsKeyRe.FindSubmatch(plist)
	if m == nil {
		return 0
	}
	n, err := strconv.ParseInt(string(m[1]), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// MessageIDFromPath extracts the leading integer from an Apple Mail
// message filename (`12345.emlx`, `12345.partial.emlx`), without reading
// or parsing the file. The synchronizer uses this to recognize an
// already-indexed message by filename alone, ahead of a full parse.
func MessageIDFromPath(path string) (int64, bool) {
	return messageIDFromFilename(path)
}

// messageIDFromFilename extracts the leading integer from an Apple Mail
// message filename (`12345.emlx`, `12345.partial.emlx`).
func messageIDFromFilename(path string) (int64, bool) {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.TrimSuffix(base, ".partial")
	n, err := strconv.ParseInt(base, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ParseFile reads and parses a message file from disk. A file that can't
// be opened or read at all returns a nil Message (there is nothing to
// index); a file that opens but fails to parse as RFC 822 returns a
// degraded, non-nil Message alongside the parse error, so the caller can
// still index it with an empty body rather than drop it.
func ParseFile(path string) (*Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	raw, err := io.ReadAll(bufio.NewReader(f))
	if err != nil {
		return nil, err
	}

	rfc822, plist := splitEmlx(raw)
	msg, parseErr := parseRFC822(bytes.NewReader(rfc822))
	msg.Flags = readFlags(plist)

	if id, ok := messageIDFromFilename(path); ok {
		msg.MessageID = id
	} else if msg.MessageID == 0 {
		msg.MessageID = fallbackMessageID(msg.HeaderMessageID)
	}
	return msg, parseErr
}
