package imaging

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/config"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/gcpclient"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/model"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/storage"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/pkg/errors"

	healthcare "google.golang.org/api/healthcare/v1"
)

var _ JobService = (*CloudHealthcareClient)(nil)

const jobIDSeparator = "#"

type ImportFunc func(ctx context.Context, dicomStore string, req *healthcare.ImportDicomDataRequest) (*healthcare.Operation, error)

type GetOperationFunc func(ctx context.Context, name string) (*healthcare.Operation, error)

// CloudHealthcareClient imports DICOM folders from Cloud Storage into a Cloud
// Healthcare DICOM store. The job id is the long-running operation name and
// the StudyInstanceUID of the artifact, joined by jobIDSeparator.
type CloudHealthcareClient struct {
	Import       ImportFunc
	GetOperation GetOperationFunc
	store        storage.Storage
	dicomStore   string
}

func NewCloudHealthcareClient(ctx context.Context, cfg *config.Config, store storage.Storage) (*CloudHealthcareClient, error) {
	opts, err := gcpclient.ClientOptions(ctx, cfg.Imaging.GCP.CredentialsFile)
	if err != nil {
		return nil, err
	}

	svc, err := healthcare.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("healthcare.NewService: %w", err)
	}

	stores := svc.Projects.Locations.Datasets.DicomStores
	operations := svc.Projects.Locations.Datasets.Operations

	return &CloudHealthcareClient{
		Import: func(ctx context.Context, dicomStore string, req *healthcare.ImportDicomDataRequest) (*healthcare.Operation, error) {
			return stores.Import(dicomStore, req).Context(ctx).Do()
		},
		GetOperation: func(ctx context.Context, name string) (*healthcare.Operation, error) {
			return operations.Get(name).Context(ctx).Do()
		},
		store:      store,
		dicomStore: DicomStoreName(cfg.Imaging.GCP),
	}, nil
}

func DicomStoreName(cfg config.GCPHealthcareConfig) string {
	return fmt.Sprintf("projects/%s/locations/%s/datasets/%s/dicomStores/%s",
		cfg.ProjectID, cfg.Location, cfg.DatasetID, cfg.DicomStoreID)
}

func (c *CloudHealthcareClient) Target() string {
	return c.dicomStore
}

// Start reads the study uid from the artifact and imports every object below
// its folder. DICOM stores keep one copy per SOP instance, so a repeated
// import of the same folder is harmless.
func (c *CloudHealthcareClient) Start(ctx context.Context, req model.StartJobRequest) (string, error) {
	folder, err := sourceFolder(req.SourceLocation)
	if err != nil {
		return "", err
	}
	uid, err := readStudyUID(ctx, c.store, req.SourceLocation)
	if err != nil {
		return "", err
	}

	op, err := c.Import(ctx, c.dicomStore, &healthcare.ImportDicomDataRequest{
		GcsSource: &healthcare.GoogleCloudHealthcareV1DicomGcsSource{
			Uri: c.store.URI(folder + "**"),
		},
	})
	if err != nil {
		return "", gcpclient.Classify(err, "import dicom data")
	}
	if op.Name == "" {
		return "", errors.NewTransientError(fmt.Errorf("empty operation name"), "import dicom data")
	}
	return op.Name + jobIDSeparator + uid, nil
}

func splitJobID(jobID string) (operation, studyUID string) {
	i := strings.LastIndex(jobID, jobIDSeparator)
	if i < 0 {
		return jobID, ""
	}
	return jobID[:i], jobID[i+len(jobIDSeparator):]
}

// StudyReference is the DICOMweb path of one study in a DICOM store.
func StudyReference(dicomStore, studyUID string) string {
	return dicomStore + "/dicomWeb/studies/" + studyUID
}

func (c *CloudHealthcareClient) Status(ctx context.Context, jobID string) (*model.JobStatus, error) {
	name, studyUID := splitJobID(jobID)
	op, err := c.GetOperation(ctx, name)
	if err != nil {
		switch gcpclient.StatusCode(err) {
		case http.StatusNotFound, http.StatusForbidden, http.StatusBadRequest:
			return &model.JobStatus{State: model.JobStateFailed, Reason: err.Error(), ExternalStatus: "ERROR"}, nil
		}
		return nil, errors.NewTransientError(err, "get import operation")
	}

	if !op.Done {
		return &model.JobStatus{State: model.JobStateInProgress, ExternalStatus: "RUNNING"}, nil
	}
	if op.Error != nil {
		reason := op.Error.Message
		if reason == "" {
			reason = fmt.Sprintf("import operation failed with code %d", op.Error.Code)
		}
		return &model.JobStatus{State: model.JobStateFailed, Reason: reason, ExternalStatus: "FAILED"}, nil
	}
	if studyUID == "" {
		return &model.JobStatus{State: model.JobStateFailed, Reason: "import job has no study instance uid", ExternalStatus: "DONE"}, nil
	}
	return &model.JobStatus{State: model.JobStateSucceeded, ResultReference: StudyReference(c.dicomStore, studyUID), ExternalStatus: "DONE"}, nil
}

// NewCloudHealthcareClientWithFuncs builds a client over explicit API calls.
func NewCloudHealthcareClientWithFuncs(store storage.Storage, dicomStore string, imp ImportFunc, get GetOperationFunc) *CloudHealthcareClient {
	return &CloudHealthcareClient{Import: imp, GetOperation: get, store: store, dicomStore: dicomStore}
}
