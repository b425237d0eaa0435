package github_test

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
)

// fakeHub is a minimal in-memory GitHub REST API for one repository.
type fakeHub struct {
	mu       sync.Mutex
	owner    string
	repo     string
	branches map[string]map[string]string // branch -> path -> content
	shas     map[string]int               // branch+path -> revision
	prs      []*fakePR
	comments map[int][]string
	auth     []string

	failUpdate int // status to return once from the next file write
}

type fakePR struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	State  string `json:"state"`
	Head   string `json:"-"`
	Base   string `json:"-"`
	URL    string `json:"html_url"`
}

func newFakeHub() *fakeHub {
	return &fakeHub{
		owner:    "acme",
		repo:     "site",
		branches: map[string]map[string]string{"main": {}},
		shas:     map[string]int{},
		comments: map[int][]string{},
	}
}

func (f *fakeHub) sha(branch, path string) string {
	return fmt.Sprintf("sha-%s-%d", strings.ReplaceAll(path, "/", "_"), f.shas[branch+"|"+path])
}

func (f *fakeHub) putFile(branch, path, content string) {
	f.branches[branch][path] = content
	f.shas[branch+"|"+path]++
}

// merge fast-forwards base with the proposal branch and deletes it.
func (f *fakeHub) merge(number int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, pr := range f.prs {
		if pr.Number == number {
			pr.State = "closed"
			for p, c := range f.branches[pr.Head] {
				f.putFile(pr.Base, p, c)
			}
			delete(f.branches, pr.Head)
		}
	}
}

// closeUnmerged closes a pull request and keeps its head branch, as the host does.
func (f *fakeHub) closeUnmerged(number int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, pr := range f.prs {
		if pr.Number == number {
			pr.State = "closed"
		}
	}
}

// copyBranch makes to a copy of from, revisions included.
func (f *fakeHub) copyBranch(from, to string) {
	copied := map[string]string{}
	for p, c := range f.branches[from] {
		copied[p] = c
		f.shas[to+"|"+p] = f.shas[from+"|"+p]
	}
	f.branches[to] = copied
}

func (f *fakeHub) server() *httptest.Server {
	prefix := "/repos/" + f.owner + "/" + f.repo
	mux := http.NewServeMux()

	mux.HandleFunc("GET "+prefix+"/contents/{path...}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.auth = append(f.auth, r.Header.Get("Authorization"))
		path := r.PathValue("path")
		ref := r.URL.Query().Get("ref")
		files, ok := f.branches[ref]
		content, found := files[path]
		if !ok || !found {
			notFound(w)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"type":     "file",
			"encoding": "base64",
			"path":     path,
			"content":  base64.StdEncoding.EncodeToString([]byte(content)),
			"sha":      f.sha(ref, path),
		})
	})

	mux.HandleFunc("PUT "+prefix+"/contents/{path...}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var body struct {
			Message string `json:"message"`
			Content string `json:"content"`
			SHA     string `json:"sha"`
			Branch  string `json:"branch"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		path := r.PathValue("path")
		if f.failUpdate != 0 {
			status := f.failUpdate
			f.failUpdate = 0
			writeJSON(w, status, map[string]any{"message": "injected"})
			return
		}
		files, ok := f.branches[body.Branch]
		if !ok {
			notFound(w)
			return
		}
		_, exists := files[path]
		switch {
		case exists && body.SHA != f.sha(body.Branch, path):
			writeJSON(w, http.StatusConflict, map[string]any{"message": "sha mismatch"})
			return
		case !exists && body.SHA != "":
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"message": "sha for missing file"})
			return
		case exists && body.SHA == "":
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"message": "sha wasn't supplied"})
			return
		}
		raw, _ := base64.StdEncoding.DecodeString(body.Content)
		f.putFile(body.Branch, path, string(raw))
		writeJSON(w, http.StatusOK, map[string]any{"content": map[string]any{"sha": f.sha(body.Branch, path)}})
	})

	mux.HandleFunc("GET "+prefix+"/git/ref/heads/{branch...}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		b := r.PathValue("branch")
		if _, ok := f.branches[b]; !ok {
			notFound(w)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"ref":    "refs/heads/" + b,
			"object": map[string]any{"sha": "commit-" + b, "type": "commit"},
		})
	})

	mux.HandleFunc("POST "+prefix+"/git/refs", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var body struct {
			Ref string `json:"ref"`
			SHA string `json:"sha"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		b := strings.TrimPrefix(body.Ref, "refs/heads/")
		if _, ok := f.branches[b]; ok {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"message": "Reference already exists"})
			return
		}
		f.copyBranch(strings.TrimPrefix(body.SHA, "commit-"), b)
		writeJSON(w, http.StatusCreated, map[string]any{"ref": body.Ref, "object": map[string]any{"sha": body.SHA}})
	})

	mux.HandleFunc("PATCH "+prefix+"/git/refs/heads/{branch...}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var body struct {
			SHA   string `json:"sha"`
			Force bool   `json:"force"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		b := r.PathValue("branch")
		if _, ok := f.branches[b]; !ok {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"message": "Reference does not exist"})
			return
		}
		if !body.Force {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"message": "Update is not a fast forward"})
			return
		}
		f.copyBranch(strings.TrimPrefix(body.SHA, "commit-"), b)
		writeJSON(w, http.StatusOK, map[string]any{"ref": "refs/heads/" + b, "object": map[string]any{"sha": body.SHA}})
	})

	mux.HandleFunc("GET "+prefix+"/pulls", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		q := r.URL.Query()
		out := []*fakePR{}
		for _, pr := range f.prs {
			if pr.State == q.Get("state") && f.owner+":"+pr.Head == q.Get("head") && pr.Base == q.Get("base") {
				out = append(out, pr)
			}
		}
		writeJSON(w, http.StatusOK, out)
	})

	mux.HandleFunc("POST "+prefix+"/pulls", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var body struct {
			Title string `json:"title"`
			Head  string `json:"head"`
			Base  string `json:"base"`
			Body  string `json:"body"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		for _, pr := range f.prs {
			if pr.State == "open" && pr.Head == body.Head {
				writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"message": "A pull request already exists"})
				return
			}
		}
		pr := &fakePR{
			Number: len(f.prs) + 1, Title: body.Title, Body: body.Body, State: "open",
			Head: body.Head, Base: body.Base,
		}
		pr.URL = "https://example.test/pull/" + strconv.Itoa(pr.Number)
		f.prs = append(f.prs, pr)
		writeJSON(w, http.StatusCreated, pr)
	})

	mux.HandleFunc("PATCH "+prefix+"/pulls/{n}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		n, _ := strconv.Atoi(r.PathValue("n"))
		var body struct {
			Title string `json:"title"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		for _, pr := range f.prs {
			if pr.Number == n {
				pr.Title = body.Title
				writeJSON(w, http.StatusOK, pr)
				return
			}
		}
		notFound(w)
	})

	mux.HandleFunc("POST "+prefix+"/issues/{n}/comments", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		n, _ := strconv.Atoi(r.PathValue("n"))
		var body struct {
			Body string `json:"body"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.comments[n] = append(f.comments[n], body.Body)
		writeJSON(w, http.StatusCreated, map[string]any{"id": len(f.comments[n]), "body": body.Body})
	})

	return httptest.NewServer(mux)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func notFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, map[string]any{"message": "Not Found"})
}
