package transport

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/passrepo/depositorch/internal/assembler"
	"github.com/passrepo/depositorch/internal/registry"
)

// SWORDTransport deposits packages over SWORDv2/AtomPub, the protocol the
// upstream repository's original deposit pipeline speaks: an HTTP POST of
// the package to a collection URL, with the response parsed as an Atom
// entry carrying SWORD extension elements for the status-document and item
// links.
type SWORDTransport struct{}

// atomEntry is the minimal subset of a SWORDv2 deposit receipt this binding
// needs: the entry's self/edit links and the sword:statement link pointing
// at the asynchronous status document.
type atomEntry struct {
	XMLName xml.Name    `xml:"entry"`
	Links   []atomLink  `xml:"link"`
	Treatment string    `xml:"treatment"`
}

type atomLink struct {
	Rel  string `xml:"rel,attr"`
	Href string `xml:"href,attr"`
}

func (e atomEntry) linkByRel(rel string) string {
	for _, l := range e.Links {
		if l.Rel == rel {
			return l.Href
		}
	}
	return ""
}

func (t *SWORDTransport) Open(ctx context.Context, params registry.TransportConfig) (Session, error) {
	if params.ServiceDocumentURL == "" && params.DefaultCollectionURL == "" {
		return nil, fmt.Errorf("transport/sword: no collection URL configured")
	}
	return &swordSession{client: &http.Client{Timeout: 60 * time.Second}}, nil
}

type swordSession struct {
	client *http.Client
}

func (s *swordSession) Send(ctx context.Context, pkg *assembler.PackageStream, params registry.TransportConfig) (Response, error) {
	collection := params.DefaultCollectionURL
	if collection == "" {
		collection = params.ServiceDocumentURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, collection, pkg)
	if err != nil {
		return Response{}, fmt.Errorf("transport/sword: build request: %w", err)
	}
	req.Header.Set("Content-Type", pkg.MediaType)
	req.Header.Set("Content-Disposition", "attachment; filename=package")
	if params.OnBehalfOf != "" {
		req.Header.Set("X-On-Behalf-Of", params.OnBehalfOf)
	}
	if params.UserAgent != "" {
		req.Header.Set("User-Agent", params.UserAgent)
	}
	if params.Username != "" {
		req.SetBasicAuth(params.Username, params.Password)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return Response{Success: false, Cause: err}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Response{Success: false, Cause: fmt.Errorf("transport/sword: deposit rejected, status %d: %s", resp.StatusCode, body)}, nil
	}

	var entry atomEntry
	if err := xml.NewDecoder(resp.Body).Decode(&entry); err != nil {
		return Response{Success: false, Cause: fmt.Errorf("transport/sword: parse receipt: %w", err)}, nil
	}

	statusURL := entry.linkByRel("http://purl.org/net/sword/terms/statement")
	itemURL := entry.linkByRel("edit")

	return Response{
		Success: true,
		Receipt: Receipt{
			StatusDocumentURL: RewriteStatusURL(params, statusURL),
			ItemURL:           itemURL,
			ExternalIDs:       nonEmpty(itemURL),
		},
	}, nil
}

func (s *swordSession) Close() error { return nil }

func nonEmpty(v string) []string {
	if v == "" {
		return nil
	}
	return []string{v}
}
