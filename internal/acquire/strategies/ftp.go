package strategies

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/FoilMiser/dataset-collector/internal/acquire"
	"github.com/FoilMiser/dataset-collector/internal/kernel"
	"github.com/FoilMiser/dataset-collector/internal/model"
)

// FTPStrategy implements the "ftp" strategy with a minimal passive-mode
// client: connect, optional auth, CWD, passive RETR. No ecosystem FTP
// client is part of the wired dependency set, so this hand-rolls the
// small RFC 959 subset the strategy needs directly atop net/textproto.
type FTPStrategy struct{}

func NewFTPStrategy() *FTPStrategy { return &FTPStrategy{} }

func (s *FTPStrategy) RequiredParams() []string { return []string{"host", "path"} }
func (s *FTPStrategy) RequiresTools() []string   { return nil }

func (s *FTPStrategy) Fetch(ctx context.Context, req acquire.FetchRequest) (acquire.FetchOutcome, error) {
	host, _ := req.Params["host"].(string)
	remotePath, _ := req.Params["path"].(string)
	user, _ := req.Params["user"].(string)
	pass, _ := req.Params["password"].(string)
	if user == "" {
		user = "anonymous"
		pass = "anonymous@"
	}
	port := "21"
	if p, ok := req.Params["port"].(string); ok && p != "" {
		port = p
	}

	conn, err := net.Dial("tcp", net.JoinHostPort(host, port))
	if err != nil {
		return acquire.FetchOutcome{Status: model.AcquireFailed, Error: err.Error()}, nil
	}
	defer conn.Close()

	tp := textproto.NewConn(conn)
	if _, _, err := tp.ReadResponse(220); err != nil {
		return acquire.FetchOutcome{Status: model.AcquireFailed, Error: fmt.Sprintf("ftp greeting: %v", err)}, nil
	}
	if err := ftpCommand(tp, "USER "+user, 331, 230); err != nil {
		return acquire.FetchOutcome{Status: model.AcquireFailed, Error: err.Error()}, nil
	}
	if err := ftpCommand(tp, "PASS "+pass, 230); err != nil {
		return acquire.FetchOutcome{Status: model.AcquireFailed, Error: err.Error()}, nil
	}
	if err := ftpCommand(tp, "TYPE I", 200); err != nil {
		return acquire.FetchOutcome{Status: model.AcquireFailed, Error: err.Error()}, nil
	}

	dataAddr, err := ftpPassive(tp)
	if err != nil {
		return acquire.FetchOutcome{Status: model.AcquireFailed, Error: err.Error()}, nil
	}

	id, err := tp.Cmd("RETR %s", remotePath)
	if err != nil {
		return acquire.FetchOutcome{Status: model.AcquireFailed, Error: err.Error()}, nil
	}
	tp.StartResponse(id)
	code, _, err := tp.ReadCodeLine(0)
	tp.EndResponse(id)
	if err != nil || (code != 150 && code != 125) {
		return acquire.FetchOutcome{Status: model.AcquireFailed, Error: fmt.Sprintf("RETR rejected: code %d err %v", code, err)}, nil
	}

	dataConn, err := net.Dial("tcp", dataAddr)
	if err != nil {
		return acquire.FetchOutcome{Status: model.AcquireFailed, Error: err.Error()}, nil
	}
	defer dataConn.Close()

	if err := os.MkdirAll(req.DestDir, 0o755); err != nil {
		return acquire.FetchOutcome{Status: model.AcquireFailed, Error: err.Error()}, nil
	}
	destPath := filepath.Join(req.DestDir, kernel.SanitizeFilename(filepath.Base(remotePath)))
	partPath := destPath + ".part"
	f, err := os.OpenFile(partPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return acquire.FetchOutcome{Status: model.AcquireFailed, Error: err.Error()}, nil
	}

	limit := req.MaxBytes
	if req.AllowHugeDownload || limit <= 0 {
		limit = 1 << 62
	}
	h := sha256.New()
	written, err := io.Copy(io.MultiWriter(f, h), io.LimitReader(dataConn, limit))
	f.Close()
	if err != nil {
		return acquire.FetchOutcome{Status: model.AcquireFailed, Error: err.Error()}, nil
	}

	if _, _, err := tp.ReadResponse(226); err != nil {
		// Some servers send 226 only after the data connection closes;
		// a non-fatal mismatch here doesn't invalidate bytes received.
	}

	if err := os.Rename(partPath, destPath); err != nil {
		return acquire.FetchOutcome{Status: model.AcquireFailed, Error: err.Error()}, nil
	}

	return acquire.FetchOutcome{
		Status: model.AcquireOK, BytesWritten: written,
		Files: []acquire.FileResult{{Path: destPath, Bytes: written, SHA256: hex.EncodeToString(h.Sum(nil))}},
	}, nil
}

func ftpCommand(tp *textproto.Conn, cmd string, validCodes ...int) error {
	id, err := tp.Cmd(cmd)
	if err != nil {
		return err
	}
	tp.StartResponse(id)
	defer tp.EndResponse(id)
	code, msg, err := tp.ReadCodeLine(0)
	if err != nil {
		return err
	}
	for _, v := range validCodes {
		if code == v {
			return nil
		}
	}
	return fmt.Errorf("ftp command %q: unexpected response %d %s", cmd, code, msg)
}

// ftpPassive issues PASV and parses the "h1,h2,h3,h4,p1,p2" reply into a
// dialable address.
func ftpPassive(tp *textproto.Conn) (string, error) {
	id, err := tp.Cmd("PASV")
	if err != nil {
		return "", err
	}
	tp.StartResponse(id)
	_, msg, err := tp.ReadResponse(227)
	tp.EndResponse(id)
	if err != nil {
		return "", err
	}

	start := strings.Index(msg, "(")
	end := strings.Index(msg, ")")
	if start < 0 || end < 0 || end <= start {
		return "", fmt.Errorf("ftp: malformed PASV reply %q", msg)
	}
	parts := strings.Split(msg[start+1:end], ",")
	if len(parts) != 6 {
		return "", fmt.Errorf("ftp: malformed PASV reply %q", msg)
	}
	ip := strings.Join(parts[0:4], ".")
	p1, err1 := strconv.Atoi(parts[4])
	p2, err2 := strconv.Atoi(parts[5])
	if err1 != nil || err2 != nil {
		return "", fmt.Errorf("ftp: malformed PASV port in %q", msg)
	}
	port := p1*256 + p2
	return net.JoinHostPort(ip, strconv.Itoa(port)), nil
}
