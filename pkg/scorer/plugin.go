package scorer

import (
	"bytes"
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/vpnagg/aggregator/internal/xerrors"
)

const defaultPluginTimeout = 3 * time.Second

// Plugin is a QualityScorer that shells out to a configured external
// executable per line and parses a single float from its stdout. Model
// training and inference live entirely outside this process; Plugin is
// only the narrow capability boundary for invoking them.
type Plugin struct {
	Executable string
	Timeout    time.Duration
}

func (p Plugin) ScoreLine(line string) (float64, error) {
	timeout := p.Timeout
	if timeout == 0 {
		timeout = defaultPluginTimeout
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.Executable, line)
	var out bytes.Buffer
	cmd.Stdout = &out

	if err := cmd.Run(); err != nil {
		return 0, xerrors.New(xerrors.KindParse, "quality scorer plugin failed", err)
	}

	score, err := strconv.ParseFloat(strings.TrimSpace(out.String()), 64)
	if err != nil {
		return 0, xerrors.New(xerrors.KindParse, "quality scorer plugin returned non-numeric output", err)
	}
	return score, nil
}
