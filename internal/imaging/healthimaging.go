package imaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/awsclient"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/config"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/logger"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/model"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/storage"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/pkg/errors"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/medicalimaging"
	"github.com/aws/aws-sdk-go/service/medicalimaging/medicalimagingiface"
	"github.com/rs/zerolog"
)

var _ JobService = (*HealthImagingClient)(nil)

const manifestName = "job-output-manifest.json"

// HealthImagingClient imports DICOM folders from the upload bucket into an
// AWS HealthImaging datastore.
type HealthImagingClient struct {
	client       medicalimagingiface.MedicalImagingAPI
	store        storage.Storage
	datastoreID  string
	roleARN      string
	outputPrefix string
	log          zerolog.Logger
}

func NewHealthImagingClient(sess *session.Session, cfg *config.Config, store storage.Storage) *HealthImagingClient {
	awsCfg := aws.NewConfig()
	if cfg.Imaging.HealthImaging.Endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.Imaging.HealthImaging.Endpoint)
	}
	return NewHealthImagingClientWithAPI(medicalimaging.New(sess, awsCfg), store, cfg.Imaging.HealthImaging)
}

func NewHealthImagingClientWithAPI(api medicalimagingiface.MedicalImagingAPI, store storage.Storage, cfg config.HealthImagingConfig) *HealthImagingClient {
	return &HealthImagingClient{
		client:       api,
		store:        store,
		datastoreID:  cfg.DatastoreID,
		roleARN:      cfg.RoleARN,
		outputPrefix: strings.Trim(cfg.OutputPrefix, "/"),
		log:          logger.For("healthimaging"),
	}
}

func (c *HealthImagingClient) Target() string {
	return c.datastoreID
}

// Start submits the folder holding req.SourceLocation. The study id doubles
// as the client token, so a retried start returns the original job.
func (c *HealthImagingClient) Start(ctx context.Context, req model.StartJobRequest) (string, error) {
	folder, err := sourceFolder(req.SourceLocation)
	if err != nil {
		return "", err
	}

	out, err := c.client.StartDICOMImportJobWithContext(ctx, &medicalimaging.StartDICOMImportJobInput{
		ClientToken:       aws.String(req.StudyID),
		JobName:           aws.String(req.StudyID),
		DatastoreId:       aws.String(c.datastoreID),
		DataAccessRoleArn: aws.String(c.roleARN),
		InputS3Uri:        aws.String(c.store.URI(folder)),
		OutputS3Uri:       aws.String(c.store.URI(c.outputPrefix + "/" + req.StudyID + "/")),
	})
	if err != nil {
		return "", awsclient.Classify(err, "start dicom import job")
	}

	jobID := aws.StringValue(out.JobId)
	if jobID == "" {
		return "", errors.NewTransientError(fmt.Errorf("empty job id"), "start dicom import job")
	}
	return jobID, nil
}

func (c *HealthImagingClient) Status(ctx context.Context, jobID string) (*model.JobStatus, error) {
	out, err := c.client.GetDICOMImportJobWithContext(ctx, &medicalimaging.GetDICOMImportJobInput{
		DatastoreId: aws.String(c.datastoreID),
		JobId:       aws.String(jobID),
	})
	if err != nil {
		if isPermanentJobError(err) {
			return &model.JobStatus{
				State:          model.JobStateFailed,
				Reason:         err.Error(),
				ExternalStatus: awsclient.Code(err),
			}, nil
		}
		return nil, errors.NewTransientError(err, "get dicom import job")
	}

	props := out.JobProperties
	if props == nil {
		return nil, errors.NewTransientError(fmt.Errorf("missing job properties"), "get dicom import job")
	}

	jobStatus := aws.StringValue(props.JobStatus)
	switch jobStatus {
	case medicalimaging.JobStatusCompleted:
		ref, err := c.resolveImageSet(ctx, jobID, aws.StringValue(props.OutputS3Uri))
		if err != nil {
			return nil, err
		}
		return &model.JobStatus{State: model.JobStateSucceeded, ResultReference: ref, ExternalStatus: jobStatus}, nil

	case medicalimaging.JobStatusFailed:
		reason := aws.StringValue(props.Message)
		if reason == "" {
			reason = "import job failed"
		}
		return &model.JobStatus{State: model.JobStateFailed, Reason: reason, ExternalStatus: jobStatus}, nil

	default:
		// SUBMITTED, IN_PROGRESS and anything newer the service reports.
		return &model.JobStatus{State: model.JobStateInProgress, ExternalStatus: jobStatus}, nil
	}
}

type importManifest struct {
	JobSummary struct {
		ImageSetsSummary []struct {
			ImageSetID string `json:"imageSetId"`
			IsPrimary  bool   `json:"isPrimary"`
		} `json:"imageSetsSummary"`
	} `json:"jobSummary"`
}

// resolveImageSet reads the job output manifest for the imported image set
// id. Until the manifest is readable and names an image set the job is
// reported as a transient failure, so the study keeps polling.
func (c *HealthImagingClient) resolveImageSet(ctx context.Context, jobID, outputURI string) (string, error) {
	bucket, prefix := splitS3URI(outputURI)
	if bucket == "" || bucket != c.store.Bucket() {
		return "", errors.NewTransientError(fmt.Errorf("output %q is outside bucket %q", outputURI, c.store.Bucket()), "resolve image set")
	}

	key := strings.TrimSuffix(prefix, "/") + "/" + c.datastoreID + "-DicomImport-" + jobID + "/" + manifestName
	id, err := c.readManifest(ctx, key)
	if err != nil {
		c.log.Warn().Err(err).Str("job_id", jobID).Str("manifest", key).Msg("Import manifest unavailable")
		return "", errors.NewTransientError(err, "read import manifest")
	}
	if id == "" {
		return "", errors.NewTransientError(fmt.Errorf("no image set in %s", key), "resolve image set")
	}
	return id, nil
}

func (c *HealthImagingClient) readManifest(ctx context.Context, key string) (string, error) {
	body, err := c.store.Download(ctx, key)
	if err != nil {
		return "", err
	}
	defer body.Close()

	var m importManifest
	if err := json.NewDecoder(body).Decode(&m); err != nil {
		return "", fmt.Errorf("decode %s: %w", manifestName, err)
	}

	sets := m.JobSummary.ImageSetsSummary
	for _, s := range sets {
		if s.IsPrimary && s.ImageSetID != "" {
			return s.ImageSetID, nil
		}
	}
	for _, s := range sets {
		if s.ImageSetID != "" {
			return s.ImageSetID, nil
		}
	}
	return "", nil
}

func isPermanentJobError(err error) bool {
	switch awsclient.Code(err) {
	case medicalimaging.ErrCodeResourceNotFoundException,
		medicalimaging.ErrCodeAccessDeniedException,
		medicalimaging.ErrCodeValidationException:
		return true
	}
	return false
}

func splitS3URI(uri string) (bucket, key string) {
	rest := strings.TrimPrefix(uri, "s3://")
	if rest == uri {
		return "", ""
	}
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}
