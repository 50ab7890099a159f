// Package s3 implements the mirror transfer client against an S3-compatible
// object store. Batches execute synchronously at submission time; the task
// handle then reports an already-terminal status, which satisfies the
// polling contract the orchestrator expects from a real transfer service.
package s3

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	minio "github.com/minio/minio-go/v6"
	log "github.com/sirupsen/logrus"

	"github.com/superdarn-canada/gatekeeper/pkg/errors"
	"github.com/superdarn-canada/gatekeeper/pkg/mirror"
)

// Config holds the connection settings for the object store.
type Config struct {
	Endpoint  string `json:"endpoint"`
	Bucket    string `json:"bucket"`
	AccessKey string `json:"accessKey"`
	SecretKey string `json:"secretKey"`
	SSL       bool   `json:"ssl"`
}

type task struct {
	status      mirror.TaskStatus
	transferred []string
}

// Client implements mirror.Client on top of a minio S3 client. Mirror paths
// map to object keys with the leading slash trimmed.
type Client struct {
	s3     *minio.Client
	bucket string

	mu     sync.Mutex
	tasks  map[mirror.TaskID]*task
	nextID int
}

// New connects to the object store described by conf.
func New(conf Config) (*Client, error) {
	if conf.Endpoint == "" || conf.Bucket == "" || conf.AccessKey == "" || conf.SecretKey == "" {
		return nil, errors.New("invalid s3 configuration: endpoint, bucket, accessKey and secretKey are required")
	}

	s3client, err := minio.New(conf.Endpoint, conf.AccessKey, conf.SecretKey, conf.SSL)
	if err != nil {
		return nil, errors.WithContext(err, "connect to object store")
	}

	return &Client{
		s3:     s3client,
		bucket: conf.Bucket,
		tasks:  map[mirror.TaskID]*task{},
	}, nil
}

func objectKey(mirrorPath string) string {
	return strings.TrimPrefix(path.Clean(mirrorPath), "/")
}

func (c *Client) Submit(batch mirror.Batch) (mirror.TaskID, error) {
	c.mu.Lock()
	c.nextID++
	id := mirror.TaskID(fmt.Sprintf("s3-%d", c.nextID))
	tk := &task{}
	c.tasks[id] = tk
	c.mu.Unlock()

	succeeded := true
	for _, item := range batch.Items {
		var err error
		if batch.Recursive {
			err = c.downloadTree(item.Source, item.Destination, tk)
		} else if _, statErr := os.Stat(item.Source); statErr == nil {
			err = c.upload(item.Source, item.Destination, tk)
		} else {
			err = c.download(item.Source, item.Destination, tk)
		}
		if err != nil {
			log.WithError(err).WithField("source", item.Source).Error("Transfer item failed")
			succeeded = false
		}
	}

	c.mu.Lock()
	tk.status.Terminal = true
	tk.status.Succeeded = succeeded
	c.mu.Unlock()
	return id, nil
}

// upload copies a local file into the bucket, skipping it when the object
// already holds identical contents.
func (c *Client) upload(localPath, mirrorPath string, tk *task) error {
	key := objectKey(mirrorPath)

	if info, err := c.s3.StatObject(c.bucket, key, minio.StatObjectOptions{}); err == nil {
		sum, err := fileMD5(localPath)
		if err != nil {
			return err
		}
		// The ETag is the object's MD5 for non-multipart uploads,
		// which holds for the file sizes this pipeline moves.
		if strings.Trim(info.ETag, `"`) == sum {
			c.mu.Lock()
			tk.status.FilesSkipped++
			c.mu.Unlock()
			return nil
		}
	}

	if _, err := c.s3.FPutObject(c.bucket, key, localPath, minio.PutObjectOptions{}); err != nil {
		return errors.WithContext(err, "put object")
	}
	c.mu.Lock()
	tk.transferred = append(tk.transferred, mirrorPath)
	c.mu.Unlock()
	return nil
}

func (c *Client) download(mirrorPath, localPath string, tk *task) error {
	if err := c.s3.FGetObject(c.bucket, objectKey(mirrorPath), localPath, minio.GetObjectOptions{}); err != nil {
		return errors.WithContext(err, "get object")
	}
	c.mu.Lock()
	tk.transferred = append(tk.transferred, localPath)
	c.mu.Unlock()
	return nil
}

func (c *Client) downloadTree(mirrorPath, localDir string, tk *task) error {
	prefix := objectKey(mirrorPath) + "/"
	doneCh := make(chan struct{})
	defer close(doneCh)

	for object := range c.s3.ListObjects(c.bucket, prefix, true, doneCh) {
		if object.Err != nil {
			return errors.WithContext(object.Err, "list objects")
		}
		rel := strings.TrimPrefix(object.Key, prefix)
		dst := filepath.Join(localDir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return err
		}
		if err := c.s3.FGetObject(c.bucket, object.Key, dst, minio.GetObjectOptions{}); err != nil {
			return errors.WithContext(err, "get object")
		}
		c.mu.Lock()
		tk.transferred = append(tk.transferred, dst)
		c.mu.Unlock()
	}
	return nil
}

func (c *Client) Wait(id mirror.TaskID, timeout, poll time.Duration) (bool, error) {
	status, err := c.Status(id)
	if err != nil {
		return false, err
	}
	return status.Terminal, nil
}

func (c *Client) Status(id mirror.TaskID) (mirror.TaskStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tk, ok := c.tasks[id]
	if !ok {
		return mirror.TaskStatus{}, errors.New(fmt.Sprintf("unknown task %q", id))
	}
	return tk.status, nil
}

func (c *Client) Transferred(id mirror.TaskID) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tk, ok := c.tasks[id]
	if !ok {
		return nil, errors.New(fmt.Sprintf("unknown task %q", id))
	}
	return append([]string{}, tk.transferred...), nil
}

// Exists reports whether the path names an object or a key prefix with at
// least one object under it. Directories don't exist as such in a bucket, so
// a prefix probe stands in for them.
func (c *Client) Exists(mirrorPath string) (bool, error) {
	key := objectKey(mirrorPath)
	if _, err := c.s3.StatObject(c.bucket, key, minio.StatObjectOptions{}); err == nil {
		return true, nil
	} else if resp := minio.ToErrorResponse(err); resp.Code != "NoSuchKey" && resp.Code != "NotFound" {
		return false, errors.WithContext(err, "stat object")
	}

	doneCh := make(chan struct{})
	defer close(doneCh)
	for object := range c.s3.ListObjects(c.bucket, key+"/", false, doneCh) {
		if object.Err != nil {
			return false, errors.WithContext(object.Err, "list objects")
		}
		return true, nil
	}
	return false, nil
}

// Mkdir is a no-op: object stores have no directories.
func (c *Client) Mkdir(string) error {
	return nil
}

// List returns the mirror paths of every object under dir.
func (c *Client) List(dir string) ([]string, error) {
	prefix := objectKey(dir) + "/"
	doneCh := make(chan struct{})
	defer close(doneCh)

	var paths []string
	for object := range c.s3.ListObjects(c.bucket, prefix, true, doneCh) {
		if object.Err != nil {
			return nil, errors.WithContext(object.Err, "list objects")
		}
		paths = append(paths, "/"+object.Key)
	}
	return paths, nil
}

// ActiveTransfers always reports false: this client executes batches
// synchronously, so nothing is ever in flight between calls.
func (c *Client) ActiveTransfers() (bool, error) {
	return false, nil
}

func fileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hasher := md5.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
