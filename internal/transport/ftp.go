package transport

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/passrepo/depositorch/internal/assembler"
	"github.com/passrepo/depositorch/internal/registry"
)

// FTPTransport delivers packages to targets that accept plain file-transfer
// deposits, via github.com/jlaffaye/ftp — an out-of-pack ecosystem
// dependency (see DESIGN.md: no retrieved example repo imports an FTP
// client, but it is the natural idiomatic choice for this protocol).
type FTPTransport struct{}

func (t *FTPTransport) Open(ctx context.Context, params registry.TransportConfig) (Session, error) {
	addr := fmt.Sprintf("%s:%d", params.Host, ftpPort(params))

	opts := []ftp.DialOption{ftp.DialWithContext(ctx), ftp.DialWithTimeout(30 * time.Second)}

	conn, err := ftp.Dial(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("transport/ftp: dial %s: %w", addr, err)
	}

	if params.Username != "" {
		if err := conn.Login(params.Username, params.Password); err != nil {
			conn.Quit()
			return nil, fmt.Errorf("transport/ftp: login: %w", err)
		}
	}

	return &ftpSession{conn: conn}, nil
}

func ftpPort(params registry.TransportConfig) int {
	if params.Port != 0 {
		return params.Port
	}
	return 21
}

type ftpSession struct {
	conn *ftp.ServerConn
}

func (s *ftpSession) Send(ctx context.Context, pkg *assembler.PackageStream, params registry.TransportConfig) (Response, error) {
	dir := params.BaseDirectory
	if dir == "" {
		dir = "/"
	}
	name := path.Join(dir, "deposit-package")

	if params.TransferMode == "binary" || params.TransferMode == "" {
		s.conn.Type(ftp.TransferTypeBinary)
	} else {
		s.conn.Type(ftp.TransferTypeASCII)
	}

	if err := s.conn.Stor(name, pkg); err != nil {
		return Response{Success: false, Cause: fmt.Errorf("transport/ftp: store %s: %w", name, err)}, nil
	}

	// FTP delivery carries no asynchronous receipt: with no status-document
	// URL, DepositTask settles the deposit as accepted as soon as the store
	// succeeds, and no status refresh is run for it.
	return Response{
		Success: true,
		Receipt: Receipt{ExternalIDs: []string{name}},
	}, nil
}

func (s *ftpSession) Close() error {
	return s.conn.Quit()
}
