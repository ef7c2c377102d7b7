package mailparse

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleRFC822 = "From: Alice <alice@example.com>\r\n" +
	"To: Bob <bob@example.com>\r\n" +
	"Subject: Quarterly numbers\r\n" +
	"Date: Mon, 1 Jan 2024 10:00:00 +0000\r\n" +
	"Message-Id: <abc123@example.com>\r\n" +
	"Content-Type: text/plain\r\n" +
	"\r\n" +
	"Here are the numbers.\r\n"

func writeEmlx(t *testing.T, dir, name, rfc822 string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	framed := strconv.Itoa(len(rfc822)) + "\n" + rfc822
	require.NoError(t, os.WriteFile(path, []byte(framed), 0o644))
	return path
}

func TestParseFileEmlxFraming(t *testing.T) {
	dir := t.TempDir()
	path := writeEmlx(t, dir, "42.emlx", sampleRFC822)

	msg, err := ParseFile(path)
	require.NoError(t, err)
	require.EqualValues(t, 42, msg.MessageID)
	require.Equal(t, "Quarterly numbers", msg.Subject)
	require.Contains(t, msg.Sender, "alice@example.com")
	require.Contains(t, msg.Body, "numbers")
}

func TestParseFileBareEmlFallback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "msg.eml")
	require.NoError(t, os.WriteFile(path, []byte(sampleRFC822), 0o644))

	msg, err := ParseFile(path)
	require.NoError(t, err)
	require.Equal(t, "Quarterly numbers", msg.Subject)
	require.NotZero(t, msg.MessageID, "falls back to a hash of the Message-Id header")
}

func TestParseFileMalformedHeaderYieldsDegradedRecord(t *testing.T) {
	dir := t.TempDir()
	garbage := "this is not a header block at all\r\n\r\nbody\r\n"
	path := writeEmlx(t, dir, "7.emlx", garbage)

	msg, err := ParseFile(path)
	require.Error(t, err, "a malformed header block is reported, not silently swallowed")
	require.NotNil(t, msg, "a malformed message still yields a record instead of nothing")
	require.Equal(t, "", msg.Body)
	require.EqualValues(t, 7, msg.MessageID, "filename-derived id still applies to a degraded record")
}

func TestParseFilePartialSkippedUpstream(t *testing.T) {
	// Partial detection lives in the scanner, not the parser; the parser
	// itself will happily parse whatever bytes it's given.
	dir := t.TempDir()
	path := writeEmlx(t, dir, "42.partial.emlx", sampleRFC822)
	_, err := ParseFile(path)
	require.NoError(t, err)
}
