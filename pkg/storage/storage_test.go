package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeContentType(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"application/pdf", ContentTypePDF, true},
		{"PDF", ContentTypePDF, true},
		{"image/jpeg", ContentTypeJPEG, true},
		{"jpg", ContentTypeJPEG, true},
		{"image/png; charset=binary", ContentTypePNG, true},
		{"text/plain", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, err := NormalizeContentType(tt.in)
		if tt.ok {
			assert.NoError(t, err, tt.in)
			assert.Equal(t, tt.want, got)
		} else {
			assert.ErrorIs(t, err, ErrUnsupportedContentType, tt.in)
		}
	}
}

func TestValidateStorageID(t *testing.T) {
	id := GenerateStorageID("loan-documents", ContentTypePDF, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	assert.True(t, strings.HasPrefix(id, "loan-documents/2026/03/01/"))
	assert.NoError(t, ValidateStorageID("loan-documents", id))

	assert.ErrorIs(t, ValidateStorageID("other", id), ErrUnknownObject)
	assert.ErrorIs(t, ValidateStorageID("loan-documents", "loan-documents/2026/03/01/not-a-uuid.pdf"), ErrUnknownObject)
	assert.ErrorIs(t, ValidateStorageID("loan-documents", "loan-documents/file.exe"), ErrUnknownObject)
}

func TestMemoryStore_UploadAndDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore("https://blobs.test", "docs")

	first, err := store.Upload(ctx, []byte("%PDF-1.4 one"), "pdf")
	require.NoError(t, err)
	second, err := store.Upload(ctx, []byte("%PDF-1.4 two"), "application/pdf")
	require.NoError(t, err)

	assert.NotEqual(t, first.StorageID, second.StorageID)
	assert.Equal(t, "https://blobs.test/"+first.StorageID, first.URL)
	assert.Equal(t, ContentTypePDF, first.ContentType)
	assert.Equal(t, 2, store.Len())

	data, ct, ok := store.Get(first.StorageID)
	require.True(t, ok)
	assert.Equal(t, "%PDF-1.4 one", string(data))
	assert.Equal(t, ContentTypePDF, ct)

	require.NoError(t, store.Delete(ctx, first.StorageID))
	// second delete of an issued id is treated as already absent
	require.NoError(t, store.Delete(ctx, first.StorageID))
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStore_Errors(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore("https://blobs.test", "docs")

	_, err := store.Upload(ctx, []byte("hello"), "text/plain")
	var se *StorageError
	require.True(t, errors.As(err, &se))
	assert.ErrorIs(t, err, ErrUnsupportedContentType)

	_, err = store.Upload(ctx, nil, "pdf")
	assert.ErrorIs(t, err, ErrEmptyObject)

	err = store.Delete(ctx, "docs/never-issued.pdf")
	require.True(t, errors.As(err, &se))
	assert.ErrorIs(t, err, ErrUnknownObject)
}

type fakeUploader struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakeUploader) Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	f.input = input
	f.body, _ = io.ReadAll(input.Body)
	if f.err != nil {
		return nil, f.err
	}
	return &manager.UploadOutput{Location: "https://bucket.s3.amazonaws.com/" + *input.Key}, nil
}

type fakeDeleter struct {
	keys []string
	err  error
}

func (f *fakeDeleter) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.keys = append(f.keys, *params.Key)
	if f.err != nil {
		return nil, f.err
	}
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3Store_Upload(t *testing.T) {
	up := &fakeUploader{}
	store := newS3Store(up, &fakeDeleter{}, S3Config{Bucket: "loans", Prefix: "/applications/"})

	obj, err := store.Upload(context.Background(), []byte{0x89, 'P', 'N', 'G'}, "png")
	require.NoError(t, err)

	assert.Equal(t, "loans", *up.input.Bucket)
	assert.Equal(t, ContentTypePNG, *up.input.ContentType)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, up.body)
	assert.True(t, strings.HasPrefix(obj.StorageID, "applications/"))
	assert.True(t, strings.HasSuffix(obj.StorageID, ".png"))
	assert.Equal(t, "https://bucket.s3.amazonaws.com/"+obj.StorageID, obj.URL)
}

func TestS3Store_UploadPublicURLAndFailure(t *testing.T) {
	up := &fakeUploader{}
	store := newS3Store(up, &fakeDeleter{}, S3Config{Bucket: "loans", Prefix: "docs", PublicBaseURL: "https://cdn.test/"})

	obj, err := store.Upload(context.Background(), []byte("%PDF"), "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.test/"+obj.StorageID, obj.URL)

	up.err = errors.New("connection reset")
	_, err = store.Upload(context.Background(), []byte("%PDF"), "application/pdf")
	var se *StorageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "upload", se.Op)
}

func TestS3Store_Delete(t *testing.T) {
	del := &fakeDeleter{}
	store := newS3Store(&fakeUploader{}, del, S3Config{Bucket: "loans", Prefix: "docs"})
	id := GenerateStorageID("docs", ContentTypeJPEG, time.Now())

	require.NoError(t, store.Delete(context.Background(), id))
	require.NoError(t, store.Delete(context.Background(), id))
	assert.Equal(t, []string{id, id}, del.keys)

	err := store.Delete(context.Background(), "elsewhere/x.jpg")
	assert.ErrorIs(t, err, ErrUnknownObject)
	assert.Len(t, del.keys, 2)

	del.err = &types.NoSuchKey{}
	assert.NoError(t, store.Delete(context.Background(), id))

	del.err = errors.New("access denied")
	var se *StorageError
	assert.True(t, errors.As(store.Delete(context.Background(), id), &se))
}
