// Package document generates the attestation PDFs uploaded to case records.
// Documents are built declaratively: the content is assembled as a pdfcpu
// create-JSON and rendered from it, so layout changes never touch Go code
// beyond the template struct.
package document

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/casepilot/casepilot/pkg/billing"
	"github.com/casepilot/casepilot/pkg/engine"
	"github.com/casepilot/casepilot/pkg/logging"
	"github.com/casepilot/casepilot/pkg/retry"
)

// Generator renders attestation PDFs into a working directory. It implements
// the engine's ProofGenerator.
type Generator struct {
	dir    string
	log    *logging.Logger
	client *http.Client

	// Title is the document heading. Defaults to a generic attestation
	// heading when empty.
	Title string

	// now is swappable for tests.
	now func() time.Time
}

// NewGenerator creates a generator writing into dir. When dir is empty a
// per-process temp directory is used.
func NewGenerator(dir string, log *logging.Logger) (*Generator, error) {
	if dir == "" {
		var err error
		dir, err = os.MkdirTemp("", "casepilot-attest-")
		if err != nil {
			return nil, fmt.Errorf("failed to create attestation directory: %w", err)
		}
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create attestation directory: %w", err)
	}
	return &Generator{
		dir:    dir,
		log:    log,
		client: &http.Client{Timeout: 30 * time.Second},
		now:    time.Now,
	}, nil
}

// Generate produces the attestation for one record and period. It returns
// the PDF path and the document reference identifying the upload. With a
// backend URL the rendered PDF is fetched from the document service;
// otherwise it is rendered locally.
func (g *Generator) Generate(ctx context.Context, req engine.ProofRequest) (string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}

	ref := uuid.New().String()[:8]
	outPath := filepath.Join(g.dir, fmt.Sprintf("attestation-%s.pdf", ref))

	if req.BackendURL != "" {
		if err := g.fetch(ctx, req, ref, outPath); err != nil {
			return "", "", err
		}
		g.log.Infof("attestation %s for %q (%s) fetched from backend", ref, req.RecordName, req.Period)
		return outPath, ref, nil
	}

	jsonPath := outPath + ".json"
	spec, err := json.Marshal(g.template(req.RecordName, req.Period, ref))
	if err != nil {
		return "", "", fmt.Errorf("failed to build attestation template: %w", err)
	}
	if err := os.WriteFile(jsonPath, spec, 0o600); err != nil {
		return "", "", fmt.Errorf("failed to write attestation template: %w", err)
	}
	defer os.Remove(jsonPath)

	if err := api.CreateFile("", jsonPath, outPath, nil); err != nil {
		return "", "", fmt.Errorf("failed to render attestation pdf: %w", err)
	}

	g.log.Infof("attestation %s for %q (%s) written to %s", ref, req.RecordName, req.Period, outPath)
	return outPath, ref, nil
}

// fetch retrieves the rendered attestation from the document backend.
func (g *Generator) fetch(ctx context.Context, req engine.ProofRequest, ref, outPath string) error {
	u, err := url.Parse(req.BackendURL)
	if err != nil {
		return fmt.Errorf("invalid backend url %q: %w", req.BackendURL, err)
	}
	q := u.Query()
	q.Set("client", req.RecordName)
	q.Set("from", req.Period.Start.Format("2006-01-02"))
	q.Set("to", req.Period.End.Format("2006-01-02"))
	q.Set("ref", ref)
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to build backend request: %w", err)
	}
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return retry.Wrap(retry.ClassNetwork, err, "document backend unreachable")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return retry.Errorf(retry.ClassNetwork, "document backend returned %s", resp.Status)
	}

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("failed to write attestation pdf: %w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("failed to write attestation pdf: %w", err)
	}
	return nil
}

// createSpec mirrors the subset of the pdfcpu create-JSON schema the
// attestation uses.
type createSpec struct {
	Paper string          `json:"paper"`
	Pages map[string]page `json:"pages"`
}

type page struct {
	Content content `json:"content"`
}

type content struct {
	Text []textBox `json:"text"`
}

type textBox struct {
	Value    string  `json:"value"`
	Anchor   string  `json:"anchor"`
	Dx       float64 `json:"dx,omitempty"`
	Dy       float64 `json:"dy"`
	Font     font    `json:"font"`
	Position []int   `json:"position,omitempty"`
}

type font struct {
	Name string `json:"name"`
	Size int    `json:"size"`
}

func (g *Generator) template(recordName string, period billing.DateRange, ref string) createSpec {
	title := g.Title
	if title == "" {
		title = "Leistungsnachweis / Attestation of Services"
	}
	body := font{Name: "Helvetica", Size: 11}

	lines := []textBox{
		{Value: title, Anchor: "tc", Dy: -60, Font: font{Name: "Helvetica-Bold", Size: 16}},
		{Value: "Klient / Client: " + recordName, Anchor: "tl", Dx: 60, Dy: -120, Font: body},
		{Value: "Zeitraum / Period: " + period.String(), Anchor: "tl", Dx: 60, Dy: -140, Font: body},
		{Value: "Erstellt / Generated: " + g.now().Format("2006-01-02 15:04"), Anchor: "tl", Dx: 60, Dy: -160, Font: body},
		{Value: "Referenz / Reference: " + ref, Anchor: "tl", Dx: 60, Dy: -180, Font: body},
	}
	return createSpec{
		Paper: "A4",
		Pages: map[string]page{"1": {Content: content{Text: lines}}},
	}
}
