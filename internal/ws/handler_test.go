package ws

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/termhost/internal/logging"
	"github.com/GriffinCanCode/termhost/internal/term/host"
	"github.com/GriffinCanCode/termhost/internal/term/session"
)

// fakeProc announces readiness on spawn and records everything written
// to its input.
type fakeProc struct {
	pr *io.PipeReader
	pw *io.PipeWriter

	mu     sync.Mutex
	closed bool
	input  []byte
	cols   int
	rows   int
}

func newFakeProc() *fakeProc {
	pr, pw := io.Pipe()
	p := &fakeProc{pr: pr, pw: pw}
	go p.emit("\x1b]654;interactive\x07")
	return p
}

func (p *fakeProc) emit(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.pw.Write([]byte(s))
}

func (p *fakeProc) Write(b []byte) (int, error) {
	p.mu.Lock()
	p.input = append(p.input, b...)
	p.mu.Unlock()
	return len(b), nil
}

func (p *fakeProc) inputString() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return string(p.input)
}

func (p *fakeProc) dims() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cols, p.rows
}

func (p *fakeProc) Input() io.Writer  { return p }
func (p *fakeProc) Output() io.Reader { return p.pr }

func (p *fakeProc) Resize(cols, rows int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cols, p.rows = cols, rows
	return nil
}

func (p *fakeProc) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		p.pw.Close()
	}
	return nil
}

type fakeHost struct{ proc *fakeProc }

func (h *fakeHost) Spawn(command string, args []string, cols, rows int) (host.Process, error) {
	return h.proc, nil
}

type attachFixture struct {
	srv      *httptest.Server
	sess     *session.Session
	proc     *fakeProc
	returned chan struct{}
}

func newAttachFixture(t *testing.T, origins []string) *attachFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	proc := newFakeProc()
	manager := session.NewManager(&fakeHost{proc: proc}, nil)
	t.Cleanup(manager.CloseAll)

	sess, err := manager.Create(context.Background(), session.Options{Shell: "/bin/fake"})
	require.NoError(t, err)

	h := NewHandler(manager, nil, logging.NewNop(), origins)
	returned := make(chan struct{})
	router := gin.New()
	router.GET("/sessions/:id/attach", func(c *gin.Context) {
		h.Attach(c)
		close(returned)
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &attachFixture{srv: srv, sess: sess, proc: proc, returned: returned}
}

func (f *attachFixture) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http") +
		"/sessions/" + f.sess.ID.String() + "/attach"
}

func TestAttachStreamsOutput(t *testing.T) {
	f := newAttachFixture(t, []string{"*"})

	conn, _, err := websocket.DefaultDialer.Dial(f.url(), nil)
	require.NoError(t, err)
	defer conn.Close()

	f.proc.emit("hello from the shell")

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var got []byte
	for !strings.Contains(string(got), "hello from the shell") {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		got = append(got, data...)
	}
}

func TestAttachReturnsOnDetachFromIdleSession(t *testing.T) {
	f := newAttachFixture(t, []string{"*"})

	conn, _, err := websocket.DefaultDialer.Dial(f.url(), nil)
	require.NoError(t, err)

	// The session produces nothing; closing the client must still
	// release the handler.
	conn.Close()

	select {
	case <-f.returned:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not return after the client detached")
	}
}

func TestAttachForwardsKeystrokes(t *testing.T) {
	f := newAttachFixture(t, []string{"*"})

	conn, _, err := websocket.DefaultDialer.Dial(f.url(), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("ls\n")))

	waitFor(t, func() bool {
		return strings.Contains(f.proc.inputString(), "ls\n")
	}, "keystrokes never reached the process")
}

func TestAttachResizeControl(t *testing.T) {
	f := newAttachFixture(t, []string{"*"})

	conn, _, err := websocket.DefaultDialer.Dial(f.url(), nil)
	require.NoError(t, err)
	defer conn.Close()

	msg := `{"type":"resize","cols":132,"rows":43}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))

	waitFor(t, func() bool {
		cols, rows := f.proc.dims()
		return cols == 132 && rows == 43
	}, "resize never reached the process")
}

func TestAttachRejectsDisallowedOrigin(t *testing.T) {
	f := newAttachFixture(t, []string{"http://app.example.com"})

	header := http.Header{"Origin": {"http://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(f.url(), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAttachAllowsConfiguredOrigin(t *testing.T) {
	f := newAttachFixture(t, []string{"http://app.example.com"})

	header := http.Header{"Origin": {"http://app.example.com"}}
	conn, _, err := websocket.DefaultDialer.Dial(f.url(), header)
	require.NoError(t, err)
	conn.Close()
}

func TestAttachUnknownSession(t *testing.T) {
	f := newAttachFixture(t, []string{"*"})

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/sessions/sess_missing/attach"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}
