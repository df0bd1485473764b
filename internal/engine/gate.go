package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/openkoi/openkoi/internal/task"
)

// evalGate skips evaluation only when the artifact is provably a no-op
// relative to an already-evaluated iteration, i.e. its fingerprint is
// identical. Anything short of that gets evaluated; spending judge
// tokens beats trusting a stale score.
type evalGate struct {
	seen map[string]*task.Evaluation
}

func newEvalGate() *evalGate {
	return &evalGate{seen: make(map[string]*task.Evaluation)}
}

// Cached returns the evaluation of a previous iteration that produced
// an identical artifact, if one exists.
func (g *evalGate) Cached(a *task.Artifact) (*task.Evaluation, bool) {
	eval, ok := g.seen[fingerprint(a)]
	return eval, ok
}

// Record remembers the evaluation for this artifact's fingerprint.
func (g *evalGate) Record(a *task.Artifact, eval *task.Evaluation) {
	g.seen[fingerprint(a)] = eval
}

func fingerprint(a *task.Artifact) string {
	files := append([]string(nil), a.FilesModified...)
	sort.Strings(files)
	h := sha256.New()
	h.Write([]byte(a.Content))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(files, "\x00")))
	return hex.EncodeToString(h.Sum(nil))
}
