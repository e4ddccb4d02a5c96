package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/aliyun/credentials-go/credentials"
)

// OSSConfig configures an OSSStore
type OSSConfig struct {
	Bucket           string
	Region           string
	InternalEndpoint string
	PublicEndpoint   string
	// Prefix is prepended to every object key; containers become sub-prefixes.
	Prefix string
	// Static credentials. When empty the default credential chain is used.
	AccessKeyID     string
	AccessKeySecret string
}

// OSSStore implements Store and Signer on Aliyun OSS. Reads and writes go
// through the internal endpoint; signed URLs use the public one.
type OSSStore struct {
	bucket     *oss.Bucket
	signBucket *oss.Bucket
	prefix     string
}

// NewOSSStore creates an OSSStore using static credentials when configured,
// otherwise the default credential chain
func NewOSSStore(cfg OSSConfig) (*OSSStore, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("oss bucket is required")
	}
	internal := strings.TrimSpace(cfg.InternalEndpoint)
	public := strings.TrimSpace(cfg.PublicEndpoint)
	if internal == "" && public == "" {
		return nil, errors.New("oss endpoint is required")
	}
	if public == "" {
		public = internal
	}
	if internal == "" {
		internal = public
	}

	var provider oss.CredentialsProvider
	if cfg.AccessKeyID != "" && cfg.AccessKeySecret != "" {
		provider = staticCredentials{&ossCredentials{accessKeyID: cfg.AccessKeyID, accessKeySecret: cfg.AccessKeySecret}}
	} else {
		cred, err := credentials.NewCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("creating alibaba credentials: %w", err)
		}
		provider = &credentialsProvider{cred: cred}
	}

	bucket, err := openBucket(internal, cfg.Region, cfg.Bucket, provider)
	if err != nil {
		return nil, fmt.Errorf("opening oss bucket: %w", err)
	}
	signBucket, err := openBucket(public, cfg.Region, cfg.Bucket, provider)
	if err != nil {
		return nil, fmt.Errorf("opening oss signing bucket: %w", err)
	}

	return &OSSStore{
		bucket:     bucket,
		signBucket: signBucket,
		prefix:     strings.Trim(strings.TrimSpace(cfg.Prefix), "/"),
	}, nil
}

func openBucket(endpoint, region, name string, provider oss.CredentialsProvider) (*oss.Bucket, error) {
	opts := []oss.ClientOption{
		oss.SetCredentialsProvider(provider),
		oss.AuthVersion(oss.AuthV4),
	}
	if strings.TrimSpace(region) != "" {
		opts = append(opts, oss.Region(region))
	}
	client, err := oss.New(endpoint, "", "", opts...)
	if err != nil {
		return nil, err
	}
	return client.Bucket(name)
}

// ObjectKey maps a location onto the bucket's key space
func (s *OSSStore) ObjectKey(loc Location) string {
	key := path.Clean("/" + strings.ReplaceAll(loc.Key, "\\", "/"))
	return strings.TrimLeft(path.Join(s.prefix, loc.Container, key), "/")
}

// Put uploads an object
func (s *OSSStore) Put(ctx context.Context, loc Location, data []byte, meta map[string]string) (Location, error) {
	if err := loc.Validate(); err != nil {
		return Location{}, err
	}
	opts := []oss.Option{
		oss.WithContext(ctx),
		oss.ContentType(http.DetectContentType(data)),
	}
	for k, v := range meta {
		opts = append(opts, oss.Meta(k, v))
	}
	if err := s.bucket.PutObject(s.ObjectKey(loc), bytes.NewReader(data), opts...); err != nil {
		return Location{}, fmt.Errorf("putting object %s: %w", loc, err)
	}
	return loc, nil
}

// Get downloads an object
func (s *OSSStore) Get(ctx context.Context, loc Location) ([]byte, error) {
	if err := loc.Validate(); err != nil {
		return nil, err
	}
	rc, err := s.bucket.GetObject(s.ObjectKey(loc), oss.WithContext(ctx))
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("getting object %s: %w", loc, ErrNotFound)
		}
		return nil, fmt.Errorf("getting object %s: %w", loc, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading object %s: %w", loc, err)
	}
	return data, nil
}

// Delete removes an object
func (s *OSSStore) Delete(ctx context.Context, loc Location) (bool, error) {
	if err := loc.Validate(); err != nil {
		return false, err
	}
	key := s.ObjectKey(loc)
	exists, err := s.bucket.IsObjectExist(key, oss.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("checking object %s: %w", loc, err)
	}
	if !exists {
		return false, nil
	}
	if err := s.bucket.DeleteObject(key, oss.WithContext(ctx)); err != nil {
		return false, fmt.Errorf("deleting object %s: %w", loc, err)
	}
	return true, nil
}

// SignUploadURL returns a pre-signed PUT URL valid for ttl
func (s *OSSStore) SignUploadURL(loc Location, ttl time.Duration) (string, error) {
	if err := loc.Validate(); err != nil {
		return "", err
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	u, err := s.signBucket.SignURL(s.ObjectKey(loc), oss.HTTPPut, int64(ttl.Seconds()))
	if err != nil {
		return "", fmt.Errorf("signing upload url: %w", err)
	}
	return u, nil
}

func isNotFound(err error) bool {
	var svcErr oss.ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.StatusCode == http.StatusNotFound || svcErr.Code == "NoSuchKey"
	}
	return false
}

type staticCredentials struct {
	creds *ossCredentials
}

func (p staticCredentials) GetCredentials() oss.Credentials { return p.creds }

// credentialsProvider bridges credentials-go to the OSS SDK provider interface
type credentialsProvider struct {
	cred credentials.Credential
}

type ossCredentials struct {
	accessKeyID     string
	accessKeySecret string
	securityToken   string
}

func (c *ossCredentials) GetAccessKeyID() string     { return c.accessKeyID }
func (c *ossCredentials) GetAccessKeySecret() string { return c.accessKeySecret }
func (c *ossCredentials) GetSecurityToken() string   { return c.securityToken }

func (p *credentialsProvider) GetCredentials() oss.Credentials {
	out, err := p.cred.GetCredential()
	if err != nil || out == nil || out.AccessKeyId == nil || out.AccessKeySecret == nil {
		// The OSS provider interface has no error return; empty credentials fail at request time.
		return &ossCredentials{}
	}
	c := &ossCredentials{
		accessKeyID:     *out.AccessKeyId,
		accessKeySecret: *out.AccessKeySecret,
	}
	if out.SecurityToken != nil {
		c.securityToken = *out.SecurityToken
	}
	return c
}
