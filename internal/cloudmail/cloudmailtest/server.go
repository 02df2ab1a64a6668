// Package cloudmailtest provides an in-memory Mail.ru Cloud for tests. It
// serves the auth endpoints, the cloud API and an upload shard from a single
// httptest.Server and records what clients did to it.
package cloudmailtest

import (
	"crypto/sha1" //nolint:gosec // content addressing in a fake, not security
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// SessionCookie is the cookie name the fake issues after a successful login.
const SessionCookie = "Mpop"

// Server is a fake Mail.ru Cloud. Create with NewServer; the zero value is
// not usable.
type Server struct {
	*httptest.Server

	mu sync.Mutex

	accounts map[string]string // login -> password
	sessions map[string]string // cookie value -> login
	tokens   map[string]string // csrf token -> login
	blobs    map[string][]byte // hash -> content

	folders map[string]bool   // created folder paths
	files   map[string][]byte // file path -> content

	logins      int
	folderCalls []string
	uploadCalls []string
	failFolder  map[string]int
	failUpload  map[string]int
	nextID      int
}

// NewServer starts a fake with the given accounts (login -> password).
// The server is closed when the test finishes via Close.
func NewServer(accounts map[string]string) *Server {
	s := &Server{
		accounts:   accounts,
		sessions:   make(map[string]string),
		tokens:     make(map[string]string),
		blobs:      make(map[string][]byte),
		folders:    map[string]bool{"/": true},
		files:      make(map[string][]byte),
		failFolder: make(map[string]int),
		failUpload: make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /cgi-bin/auth", s.handleAuth)
	mux.HandleFunc("GET /sdc", s.handleSDC)
	mux.HandleFunc("POST /api/v2/tokens/csrf", s.handleCSRF)
	mux.HandleFunc("GET /api/v2/dispatcher", s.handleDispatcher)
	mux.HandleFunc("POST /api/v2/folder/add", s.handleFolderAdd)
	mux.HandleFunc("POST /api/v2/file/add", s.handleFileAdd)
	mux.HandleFunc("PUT /upload/", s.handleShardPut)

	s.Server = httptest.NewServer(mux)

	return s
}

// IssueSession creates an accepted session for login without going through
// the login form and returns its cookie value.
func (s *Server) IssueSession(login string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.newSessionLocked(login)
}

// RevokeSessions invalidates every issued session.
func (s *Server) RevokeSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions = make(map[string]string)
	s.tokens = make(map[string]string)
}

// FailFolder makes the next n folder/add calls for remotePath return 500.
func (s *Server) FailFolder(remotePath string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failFolder[remotePath] = n
}

// FailUpload makes the next n file/add calls for remotePath return 403.
func (s *Server) FailUpload(remotePath string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failUpload[remotePath] = n
}

// Logins returns how many successful credential logins happened.
func (s *Server) Logins() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.logins
}

// FolderCalls returns the home paths of every folder/add call, in order.
func (s *Server) FolderCalls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.folderCalls...)
}

// UploadCalls returns the home paths of every file/add call, in order.
func (s *Server) UploadCalls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.uploadCalls...)
}

// Folders returns the sorted set of existing folders, excluding "/".
func (s *Server) Folders() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.folders))
	for p := range s.folders {
		if p != "/" {
			out = append(out, p)
		}
	}

	sort.Strings(out)

	return out
}

// File returns the content stored at remotePath.
func (s *Server) File(remotePath string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.files[remotePath]

	return b, ok
}

// Files returns the sorted list of stored file paths.
func (s *Server) Files() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.files))
	for p := range s.files {
		out = append(out, p)
	}

	sort.Strings(out)

	return out
}

func (s *Server) newSessionLocked(login string) string {
	s.nextID++
	v := "session-" + strconv.Itoa(s.nextID)
	s.sessions[v] = login

	return v
}

// sessionLogin returns the login behind the request's session cookie.
func (s *Server) sessionLogin(r *http.Request) (string, bool) {
	c, err := r.Cookie(SessionCookie)
	if err != nil {
		return "", false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	login, ok := s.sessions[c.Value]

	return login, ok
}

// authorized checks both the session cookie and the csrf token.
func (s *Server) authorized(r *http.Request) bool {
	login, ok := s.sessionLogin(r)
	if !ok {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.tokens[r.FormValue("token")] == login
}

func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	login := r.FormValue("Login")
	password := r.FormValue("Password")

	s.mu.Lock()
	want, known := s.accounts[login]
	if !known || want != password {
		s.mu.Unlock()
		// The real service answers a failed login with a normal page and no
		// session cookie.
		fmt.Fprint(w, "<html>login failed</html>")

		return
	}

	s.logins++
	v := s.newSessionLocked(login)
	s.mu.Unlock()

	http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: v, Path: "/"})
	fmt.Fprint(w, "<html>ok</html>")
}

func (s *Server) handleSDC(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.sessionLogin(r); ok {
		http.SetCookie(w, &http.Cookie{Name: "sdcs", Value: "sdc-ok", Path: "/"})
	}

	fmt.Fprint(w, "<html>sdc</html>")
}

func (s *Server) handleCSRF(w http.ResponseWriter, r *http.Request) {
	login, ok := s.sessionLogin(r)
	if !ok {
		writeEnvelope(w, http.StatusForbidden, "", map[string]string{"error": "nosdc"})
		return
	}

	s.mu.Lock()
	s.nextID++
	tok := "csrf-" + strconv.Itoa(s.nextID)
	s.tokens[tok] = login
	s.mu.Unlock()

	writeEnvelope(w, http.StatusOK, login, map[string]string{"token": tok})
}

func (s *Server) handleDispatcher(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeEnvelope(w, http.StatusForbidden, "", nil)
		return
	}

	writeEnvelope(w, http.StatusOK, "", map[string]any{
		"upload": []map[string]string{{"url": s.URL + "/upload/", "count": "1"}},
	})
}

func (s *Server) handleShardPut(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.sessionLogin(r); !ok {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	sum := sha1.Sum(data) //nolint:gosec // content addressing in a fake
	hash := strings.ToUpper(hex.EncodeToString(sum[:]))

	s.mu.Lock()
	s.blobs[hash] = data
	s.mu.Unlock()

	w.WriteHeader(http.StatusCreated)
	fmt.Fprint(w, hash)
}

func (s *Server) handleFolderAdd(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeEnvelope(w, http.StatusForbidden, "", nil)
		return
	}

	home := r.FormValue("home")

	s.mu.Lock()
	defer s.mu.Unlock()

	s.folderCalls = append(s.folderCalls, home)

	if n := s.failFolder[home]; n > 0 {
		s.failFolder[home] = n - 1
		writeEnvelope(w, http.StatusInternalServerError, "", nil)

		return
	}

	if s.folders[home] {
		writeEnvelope(w, http.StatusBadRequest, "", map[string]any{
			"home": map[string]string{"error": "exists", "value": home},
		})

		return
	}

	// folder/add creates missing parents.
	for p := home; p != "/" && p != "."; p = path.Dir(p) {
		s.folders[p] = true
	}

	writeEnvelope(w, http.StatusOK, "", home)
}

func (s *Server) handleFileAdd(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeEnvelope(w, http.StatusForbidden, "", nil)
		return
	}

	home := r.FormValue("home")
	hash := r.FormValue("hash")

	s.mu.Lock()
	defer s.mu.Unlock()

	s.uploadCalls = append(s.uploadCalls, home)

	if n := s.failUpload[home]; n > 0 {
		s.failUpload[home] = n - 1
		writeEnvelope(w, http.StatusForbidden, "", nil)

		return
	}

	data, ok := s.blobs[hash]
	if !ok {
		writeEnvelope(w, http.StatusBadRequest, "", map[string]any{
			"hash": map[string]string{"error": "not_exists"},
		})

		return
	}

	if strconv.Itoa(len(data)) != r.FormValue("size") {
		writeEnvelope(w, http.StatusBadRequest, "", map[string]any{
			"size": map[string]string{"error": "invalid"},
		})

		return
	}

	if !s.folders[path.Dir(home)] {
		writeEnvelope(w, http.StatusBadRequest, "", map[string]any{
			"home": map[string]string{"error": "not_exists"},
		})

		return
	}

	if r.FormValue("conflict") != "rewrite" {
		if _, exists := s.files[home]; exists {
			writeEnvelope(w, http.StatusBadRequest, "", map[string]any{
				"home": map[string]string{"error": "exists"},
			})

			return
		}
	}

	s.files[home] = data

	writeEnvelope(w, http.StatusOK, "", home)
}

func writeEnvelope(w http.ResponseWriter, status int, email string, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	//nolint:errcheck // test server
	json.NewEncoder(w).Encode(map[string]any{
		"email":  email,
		"status": status,
		"body":   body,
	})
}
