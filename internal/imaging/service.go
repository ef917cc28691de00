package imaging

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/config"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/model"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/storage"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/pkg/errors"

	"github.com/aws/aws-sdk-go/aws/session"
)

// JobService starts external import jobs and reports their state. Provider
// status vocabularies never leave the implementations: Status returns one of
// the model.JobState values, or a transient error when the query itself
// failed.
type JobService interface {
	Start(ctx context.Context, req model.StartJobRequest) (string, error)
	Status(ctx context.Context, jobID string) (*model.JobStatus, error)
	// Target names the import destination recorded on the study.
	Target() string
}

// New builds the JobService for cfg.Imaging.Provider.
func New(ctx context.Context, cfg *config.Config, sess *session.Session, store storage.Storage) (JobService, error) {
	switch cfg.Imaging.Provider {
	case "healthimaging":
		if sess == nil {
			return nil, fmt.Errorf("healthimaging requires an AWS session")
		}
		return NewHealthImagingClient(sess, cfg, store), nil
	case "gcp":
		return NewCloudHealthcareClient(ctx, cfg, store)
	}
	return nil, fmt.Errorf("unknown imaging provider %q", cfg.Imaging.Provider)
}

// sourceFolder returns the directory of an artifact key with a trailing
// slash. Import services take folders, not single files, so a key at the
// bucket root is rejected rather than importing the whole bucket.
func sourceFolder(key string) (string, error) {
	dir := path.Dir(strings.TrimPrefix(key, "/"))
	if dir == "." || dir == "/" {
		return "", errors.ValidationError{Field: "source_location", Value: key, Message: "must be inside a folder"}
	}
	return dir + "/", nil
}
