package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
)

// BlobStorage reads source images from and writes results to Azure Blob Storage
type BlobStorage interface {
	ImageFetcher
	ResultSink
}

type azureStorage struct {
	client    *azblob.Client
	account   string
	container string
	maxBytes  int64
}

// NewAzureStorage connects with a shared key; results are written to container
func NewAzureStorage(accountName, accountKey, container string, maxBytes int64) (BlobStorage, error) {
	credential, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, err
	}

	client, err := azblob.NewClientWithSharedKeyCredential(
		fmt.Sprintf("https://%s.blob.core.windows.net", accountName),
		credential,
		nil,
	)
	if err != nil {
		return nil, err
	}

	return &azureStorage{client: client, account: accountName, container: container, maxBytes: maxBytes}, nil
}

// FetchImage accepts "azblob://container/name" or a blob URL of the form
// https://account.blob.core.windows.net/container/name
func (s *azureStorage) FetchImage(ctx context.Context, ref string) ([]byte, error) {
	containerName, blobName, err := parseBlobRef(ref)
	if err != nil {
		return nil, err
	}

	downloadResponse, err := s.client.DownloadStream(ctx, containerName, blobName, nil)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}

	retryReader := downloadResponse.Body
	defer retryReader.Close()

	data, err := io.ReadAll(io.LimitReader(retryReader, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	if int64(len(data)) > s.maxBytes {
		return nil, fmt.Errorf("%w: blob exceeds %d bytes", ErrTooLarge, s.maxBytes)
	}
	return data, nil
}

// Save uploads data as blob name in the configured container
func (s *azureStorage) Save(ctx context.Context, name string, data []byte) (string, error) {
	contentType := "image/jpeg"
	_, err := s.client.UploadBuffer(ctx, s.container, name, data, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	})
	if err != nil {
		return "", fmt.Errorf("upload failed: %w", err)
	}
	return fmt.Sprintf("https://%s.blob.core.windows.net/%s/%s", s.account, s.container, url.PathEscape(name)), nil
}

func parseBlobRef(ref string) (string, string, error) {
	parsedURL, err := url.Parse(ref)
	if err != nil {
		return "", "", fmt.Errorf("invalid blob URL: %w", err)
	}

	var path string
	switch parsedURL.Scheme {
	case "azblob":
		path = parsedURL.Host + parsedURL.Path
	case "https", "http":
		path = strings.TrimPrefix(parsedURL.Path, "/")
	default:
		return "", "", fmt.Errorf("unsupported blob reference %q", ref)
	}

	containerName, blobName, ok := strings.Cut(path, "/")
	if !ok || containerName == "" || blobName == "" {
		return "", "", fmt.Errorf("blob reference must name a container and a blob: %q", ref)
	}
	return containerName, blobName, nil
}
