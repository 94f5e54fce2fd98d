package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

type azureSource struct {
	client    *azblob.Client
	container string
	prefix    string
	limits    Limits
}

// NewAzureSource builds an Azure Blob source from AZURE_STORAGE_ACCOUNT,
// AZURE_STORAGE_KEY, AZURE_BLOB_CONTAINER and optional AZURE_BLOB_PREFIX.
func NewAzureSource() (Source, error) {
	account := os.Getenv("AZURE_STORAGE_ACCOUNT")
	key := os.Getenv("AZURE_STORAGE_KEY")
	container := os.Getenv("AZURE_BLOB_CONTAINER")
	if account == "" || key == "" || container == "" {
		return nil, fmt.Errorf("AZURE_STORAGE_ACCOUNT/AZURE_STORAGE_KEY/AZURE_BLOB_CONTAINER required for azure source")
	}
	credential, err := azblob.NewSharedKeyCredential(account, key)
	if err != nil {
		return nil, fmt.Errorf("build shared key credential: %w", err)
	}
	url := fmt.Sprintf("https://%s.blob.core.windows.net/", account)
	client, err := azblob.NewClientWithSharedKeyCredential(url, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("create blob client: %w", err)
	}
	return &azureSource{
		client:    client,
		container: container,
		prefix:    os.Getenv("AZURE_BLOB_PREFIX"),
		limits:    Limits{MaxCall: DefaultMaxCall, Align: DefaultAlign},
	}, nil
}

func (a *azureSource) Name() string {
	return "azure"
}

func (a *azureSource) Limits() Limits {
	return a.limits
}

func (a *azureSource) Read(ctx context.Context, ref string, offset, length int64) ([]byte, error) {
	resp, err := a.client.DownloadStream(ctx, a.container, a.blobFor(ref), &azblob.DownloadStreamOptions{
		Range: azblob.HTTPRange{Offset: offset, Count: length},
	})
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("azure download: %w", err)
	}
	defer resp.Body.Close()

	data := make([]byte, length)
	if _, err := io.ReadFull(resp.Body, data); err != nil {
		return nil, fmt.Errorf("azure source: read body: %w", err)
	}
	return data, nil
}

func (a *azureSource) blobFor(ref string) string {
	if a.prefix == "" {
		return ref
	}
	return path.Join(a.prefix, ref)
}
