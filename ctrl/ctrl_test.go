package ctrl

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func startServer(t *testing.T) (*Server, *Client) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mmbot.sock")
	s := NewServer(path)
	s.Register("echo", func(args []string) (string, error) {
		return strings.Join(args, " "), nil
	})
	s.Register("boom", func([]string) (string, error) {
		return "", errors.New("storage offline")
	})
	s.Register("lookup", func(args []string) (string, error) {
		return "", fmt.Errorf("trader %q: %w", args[0], ErrUnknownEntity)
	})
	assert.NoError(t, s.Listen())
	t.Cleanup(func() { s.Close() })
	return s, NewClient(path)
}

func TestCallRoundTrip(t *testing.T) {
	t.Parallel()

	_, c := startServer(t)
	code, body, err := c.Call("echo", "hello", "world")
	assert.NoError(t, err)
	assert.Equal(t, CodeOK, code)
	assert.Equal(t, "hello world", body)
}

func TestUnknownCommand(t *testing.T) {
	t.Parallel()

	_, c := startServer(t)
	code, body, err := c.Call("nonsense")
	assert.NoError(t, err)
	assert.Equal(t, CodeUnknown, code)
	assert.Contains(t, body, "unknown command")
}

func TestHandlerErrorCodes(t *testing.T) {
	t.Parallel()

	_, c := startServer(t)

	code, body, err := c.Call("boom")
	assert.NoError(t, err)
	assert.Equal(t, CodeRuntime, code)
	assert.Contains(t, body, "storage offline")

	code, body, err = c.Call("lookup", "ghost")
	assert.NoError(t, err)
	assert.Equal(t, CodeUnknown, code)
	assert.Contains(t, body, "ghost")
}

func TestDialWithoutServer(t *testing.T) {
	t.Parallel()

	c := NewClient(filepath.Join(t.TempDir(), "absent.sock"))
	_, _, err := c.Call("echo")
	assert.Error(t, err)
}

func TestStaleSocketReplaced(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "mmbot.sock")
	s1 := NewServer(path)
	assert.NoError(t, s1.Listen())

	// Simulate a crashed instance: the socket file stays behind.
	s1.ln.SetUnlinkOnClose(false)
	assert.NoError(t, s1.Close())

	s2 := NewServer(path)
	s2.Register("echo", func(args []string) (string, error) { return "up", nil })
	assert.NoError(t, s2.Listen())
	defer s2.Close()

	code, body, err := NewClient(path).Call("echo")
	assert.NoError(t, err)
	assert.Equal(t, CodeOK, code)
	assert.Equal(t, "up", body)
}
