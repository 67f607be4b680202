package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// DriveClient stores objects as files in one Drive folder. The object key
// becomes the file name.
type DriveClient struct {
	srv      *drive.Service
	folderID string
}

func NewDriveClient(ctx context.Context, credentialsJSON, folderID string) (*DriveClient, error) {
	if credentialsJSON == "" {
		return nil, fmt.Errorf("drive credentials must be provided")
	}

	jwt, err := google.JWTConfigFromJSON([]byte(credentialsJSON), drive.DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse drive credentials: %w", err)
	}

	srv, err := drive.NewService(ctx, option.WithHTTPClient(jwt.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve Drive client: %w", err)
	}

	if folderID == "" {
		folderID = "root"
	}
	return &DriveClient{srv: srv, folderID: folderID}, nil
}

func (c *DriveClient) ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	q := fmt.Sprintf("'%s' in parents and trashed=false", c.folderID)
	if prefix != "" {
		q += fmt.Sprintf(" and name contains '%s'", strings.ReplaceAll(prefix, "'", "\\'"))
	}

	var results []ObjectInfo
	err := c.srv.Files.List().
		Q(q).
		Fields("nextPageToken, files(id, name, size)").
		Pages(ctx, func(page *drive.FileList) error {
			for _, f := range page.Files {
				if strings.HasPrefix(f.Name, prefix) {
					results = append(results, ObjectInfo{Key: f.Name, Size: f.Size})
				}
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("unable to list drive files: %w", err)
	}
	return results, nil
}

func (c *DriveClient) UploadObject(ctx context.Context, key string, data []byte, contentType string) error {
	file := &drive.File{
		Name:     key,
		MimeType: contentType,
		Parents:  []string{c.folderID},
	}
	_, err := c.srv.Files.Create(file).Media(bytes.NewReader(data)).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("drive upload %s: %w", key, err)
	}
	return nil
}

var _ ObjectStorage = (*DriveClient)(nil)
