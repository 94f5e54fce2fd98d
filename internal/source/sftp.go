package source

import (
	"context"
	"fmt"
	"net"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

type sftpSource struct {
	addr     string
	user     string
	password string
	keyPath  string
	baseDir  string
	limits   Limits
}

// NewSFTPSource builds an SFTP-backed source from SFTP_HOST, SFTP_USER and
// either SFTP_PASSWORD or SFTP_KEY_PATH.
func NewSFTPSource() (Source, error) {
	host := os.Getenv("SFTP_HOST")
	user := os.Getenv("SFTP_USER")
	if host == "" || user == "" {
		return nil, fmt.Errorf("SFTP_HOST and SFTP_USER required for sftp source")
	}
	port := os.Getenv("SFTP_PORT")
	if port == "" {
		port = "22"
	}
	if _, err := strconv.Atoi(port); err != nil {
		return nil, fmt.Errorf("invalid sftp port: %w", err)
	}
	return &sftpSource{
		addr:     net.JoinHostPort(host, port),
		user:     user,
		password: os.Getenv("SFTP_PASSWORD"),
		keyPath:  os.Getenv("SFTP_KEY_PATH"),
		baseDir:  os.Getenv("SFTP_BASE_DIR"),
		limits:   Limits{MaxCall: DefaultMaxCall, Align: DefaultAlign},
	}, nil
}

func (s *sftpSource) Name() string {
	return "sftp"
}

func (s *sftpSource) Limits() Limits {
	return s.limits
}

func (s *sftpSource) Read(ctx context.Context, ref string, offset, length int64) ([]byte, error) {
	client, conn, err := s.newClient()
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	defer client.Close()

	f, err := client.Open(s.remotePath(ref))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("sftp open: %w", err)
	}
	defer f.Close()

	data := make([]byte, length)
	n, err := f.ReadAt(data, offset)
	if int64(n) != length {
		return nil, fmt.Errorf("sftp read at %d: %d of %d bytes: %w", offset, n, length, err)
	}
	return data, nil
}

func (s *sftpSource) newClient() (*sftp.Client, *ssh.Client, error) {
	auths := []ssh.AuthMethod{}
	if s.keyPath != "" {
		key, err := os.ReadFile(s.keyPath)
		if err != nil {
			return nil, nil, fmt.Errorf("read key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, nil, fmt.Errorf("parse key: %w", err)
		}
		auths = append(auths, ssh.PublicKeys(signer))
	}
	if s.password != "" {
		auths = append(auths, ssh.Password(s.password))
	}
	if len(auths) == 0 {
		return nil, nil, fmt.Errorf("sftp source requires password or key")
	}
	cfg := ssh.ClientConfig{
		User:            s.user,
		Auth:            auths,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	}

	conn, err := ssh.Dial("tcp", s.addr, &cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("ssh dial: %w", err)
	}
	client, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	return client, conn, nil
}

func (s *sftpSource) remotePath(ref string) string {
	if s.baseDir == "" {
		return ref
	}
	return path.Join(s.baseDir, ref)
}
