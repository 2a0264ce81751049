package render

import (
	"fmt"
	"strings"

	"github.com/banshee-data/flowplate/internal/batch"
)

// sanitize makes a name component filesystem-safe.
func sanitize(s string) string {
	s = strings.ReplaceAll(s, " ", "_")
	return strings.ReplaceAll(s, "/", "_")
}

// sanitizeKey additionally strips parentheses, which show up in
// acquisition keyword names like "Time point (hr)".
func sanitizeKey(s string) string {
	s = sanitize(s)
	s = strings.ReplaceAll(s, "(", "")
	return strings.ReplaceAll(s, ")", "")
}

// ArtifactName builds the output filename for one batch value:
// {base}_{plotKind}_{gate}_{channels}_{key}_{value}{ext}.
func ArtifactName(workspaceBase string, req batch.PlotRequest, batchKey, batchValue, ext string) string {
	gate := sanitize(req.GateName)
	if gate == "" {
		gate = "ungated"
	}
	params := req.XChannel
	if req.Kind != batch.PlotHistogram && req.YChannel != "" {
		params += "_" + req.YChannel
	}
	return fmt.Sprintf("%s_%s_%s_%s_%s_%s%s",
		sanitize(workspaceBase),
		req.Kind,
		gate,
		sanitize(params),
		sanitizeKey(batchKey),
		sanitize(batchValue),
		ext)
}
