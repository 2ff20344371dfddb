package specserver

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// repoStore serves bare git repositories under a root directory via the
// read-only git-over-HTTP "smart" protocol, by shelling out to the
// system's own git-upload-pack rather than reimplementing the wire
// protocol (§D.4 of the expanded spec). Every repo is expected to carry a
// synthetic `_working` branch holding the operator's uncommitted changes,
// per §4.5.
type repoStore struct {
	root string
}

func newRepoStore(root string) *repoStore {
	return &repoStore{root: root}
}

func (rs *repoStore) path(repo string) string {
	return filepath.Join(rs.root, repo+".git")
}

func (rs *repoStore) exists(repo string) bool {
	if rs.root == "" {
		return false
	}
	info, err := os.Stat(rs.path(repo))
	return err == nil && info.IsDir()
}

// serveUploadPack implements the smart HTTP GET /info/refs?service=git-upload-pack
// advertisement and, for POST-less read-only clients, a direct invocation
// of git-upload-pack --stateless-rpc, matching a minimal Gitea/Gogs-style
// read path.
func (rs *repoStore) serveUploadPack(w http.ResponseWriter, r *http.Request, repo string) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", "upload-pack", "--stateless-rpc", "--advertise-refs", rs.path(repo))
	out, err := cmd.Output()
	if err != nil {
		log.Error().Err(err).Str("repo", repo).Msg("git upload-pack advertisement failed")
		http.Error(w, "repo unavailable", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/x-git-upload-pack-advertisement")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pktLine("# service=git-upload-pack\n"))
	_, _ = w.Write(flushPkt())
	_, _ = w.Write(out)
}

// serveFile extracts a single file's contents from the repo's `_working`
// branch (falling back to HEAD) for simple bootstrap fetches, per §4.5's
// second repo route.
func (rs *repoStore) serveFile(w http.ResponseWriter, r *http.Request, repo, path string) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	for _, ref := range []string{"_working", "HEAD"} {
		cmd := exec.CommandContext(ctx, "git", "--git-dir", rs.path(repo), "show", ref+":"+path)
		out, err := cmd.Output()
		if err == nil {
			w.Header().Set("Content-Type", "application/octet-stream")
			_, _ = io.Copy(w, strings.NewReader(string(out)))
			return
		}
	}
	http.NotFound(w, r)
}

func pktLine(s string) []byte {
	n := len(s) + 4
	return []byte(hex4(n) + s)
}

func flushPkt() []byte {
	return []byte("0000")
}

func hex4(n int) string {
	const hexDigits = "0123456789abcdef"
	b := [4]byte{}
	for i := 3; i >= 0; i-- {
		b[i] = hexDigits[n&0xf]
		n >>= 4
	}
	return string(b[:])
}
