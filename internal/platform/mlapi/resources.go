package mlapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/animus-labs/mlpipe/internal/domain"
	"github.com/animus-labs/mlpipe/internal/execution/pipeline"
)

type workspaceResource struct {
	Name       string            `json:"name"`
	Location   string            `json:"location,omitempty"`
	Tags       map[string]string `json:"tags,omitempty"`
	Properties struct {
		DisplayName  string `json:"displayName,omitempty"`
		Description  string `json:"description,omitempty"`
		DiscoveryURL string `json:"discoveryUrl,omitempty"`
	} `json:"properties"`
}

type computeResource struct {
	Name       string `json:"name"`
	Properties struct {
		ComputeType       string    `json:"computeType"`
		ProvisioningState string    `json:"provisioningState"`
		CreatedOn         time.Time `json:"createdOn"`
		Properties        struct {
			VMSize        string `json:"vmSize"`
			ScaleSettings struct {
				MinNodeCount int `json:"minNodeCount"`
				MaxNodeCount int `json:"maxNodeCount"`
			} `json:"scaleSettings"`
		} `json:"properties"`
	} `json:"properties"`
}

type environmentVersionResource struct {
	ID         string `json:"id,omitempty"`
	Name       string `json:"name,omitempty"`
	Properties struct {
		Image       string            `json:"image"`
		CondaFile   string            `json:"condaFile,omitempty"`
		Description string            `json:"description,omitempty"`
		Tags        map[string]string `json:"tags,omitempty"`
	} `json:"properties"`
}

type jobResource struct {
	Name       string `json:"name"`
	Properties struct {
		JobType        string          `json:"jobType"`
		ExperimentName string          `json:"experimentName"`
		DisplayName    string          `json:"displayName,omitempty"`
		Status         string          `json:"status,omitempty"`
		Pipeline       json.RawMessage `json:"pipeline,omitempty"`
		Services       map[string]struct {
			Endpoint string `json:"endpoint"`
		} `json:"services,omitempty"`
		CreationContext struct {
			CreatedAt time.Time `json:"createdAt"`
		} `json:"creationContext"`
	} `json:"properties"`
}

func (c *Client) GetWorkspace(ctx context.Context) (domain.Workspace, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.workspacePath(), nil)
	if err != nil {
		return domain.Workspace{}, err
	}
	var out workspaceResource
	if err := c.do(req, &out); err != nil {
		return domain.Workspace{}, err
	}
	return c.workspaceFromResource(out), nil
}

// CreateWorkspace creates ws in the client's resource group and returns the
// provisioned workspace.
func (c *Client) CreateWorkspace(ctx context.Context, ws domain.Workspace) (domain.Workspace, error) {
	ws.Name = strings.TrimSpace(ws.Name)
	if ws.Name == "" {
		return domain.Workspace{}, errors.New("workspace name is required")
	}
	if strings.TrimSpace(ws.Location) == "" {
		return domain.Workspace{}, errors.New("workspace location is required")
	}
	body := workspaceResource{Name: ws.Name, Location: ws.Location, Tags: ws.Tags}
	body.Properties.DisplayName = ws.DisplayName
	body.Properties.Description = ws.Description

	scoped := c.workspace.Scope(ws.Name)
	sc := &Client{baseURL: c.baseURL, workspace: scoped, http: c.http}
	req, err := sc.newRequest(ctx, http.MethodPut, sc.workspacePath(), body)
	if err != nil {
		return domain.Workspace{}, err
	}
	var out workspaceResource
	if err := sc.do(req, &out); err != nil {
		return domain.Workspace{}, err
	}
	return sc.workspaceFromResource(out), nil
}

func (c *Client) workspaceFromResource(r workspaceResource) domain.Workspace {
	name := r.Name
	if name == "" {
		name = c.workspace.WorkspaceName
	}
	return domain.Workspace{
		Name:           name,
		SubscriptionID: c.workspace.SubscriptionID,
		ResourceGroup:  c.workspace.ResourceGroup,
		Location:       r.Location,
		DisplayName:    r.Properties.DisplayName,
		Description:    r.Properties.Description,
		Tags:           r.Tags,
		DiscoveryURL:   r.Properties.DiscoveryURL,
	}
}

func (c *Client) GetCompute(ctx context.Context, name string) (domain.Compute, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Compute{}, errors.New("compute name is required")
	}
	req, err := c.newRequest(ctx, http.MethodGet, c.workspacePath("computes", name), nil)
	if err != nil {
		return domain.Compute{}, err
	}
	var out computeResource
	if err := c.do(req, &out); err != nil {
		return domain.Compute{}, err
	}
	return domain.Compute{
		Name:          out.Name,
		Type:          out.Properties.ComputeType,
		State:         out.Properties.ProvisioningState,
		Size:          out.Properties.Properties.VMSize,
		MinNodes:      out.Properties.Properties.ScaleSettings.MinNodeCount,
		MaxNodes:      out.Properties.Properties.ScaleSettings.MaxNodeCount,
		ProvisionedAt: out.Properties.CreatedOn,
	}, nil
}

// RegisterEnvironment creates or updates one environment version and returns
// the platform asset id. condaFile is the dependency manifest content.
func (c *Client) RegisterEnvironment(ctx context.Context, desc domain.EnvironmentDescriptor, condaFile []byte) (string, error) {
	if err := desc.Validate(); err != nil {
		return "", err
	}
	var body environmentVersionResource
	body.Properties.Image = desc.BaseImage
	body.Properties.CondaFile = string(condaFile)
	body.Properties.Description = desc.Description
	body.Properties.Tags = desc.Tags

	req, err := c.newRequest(ctx, http.MethodPut, c.workspacePath("environments", desc.Name, "versions", desc.Version), body)
	if err != nil {
		return "", err
	}
	var out environmentVersionResource
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		out.ID = c.workspacePath("environments", desc.Name, "versions", desc.Version)
	}
	return out.ID, nil
}

// SubmitGraph creates the pipeline job jobName. jobName is the idempotency
// key: resubmitting the same name never creates a second job.
func (c *Client) SubmitGraph(ctx context.Context, request domain.ExecutionRequest, experiment, jobName string) (domain.Job, error) {
	if strings.TrimSpace(jobName) == "" {
		return domain.Job{}, errors.New("job name is required")
	}
	raw, err := pipeline.MarshalExecutionRequest(request)
	if err != nil {
		return domain.Job{}, fmt.Errorf("marshal pipeline: %w", err)
	}
	var body jobResource
	body.Properties.JobType = "Pipeline"
	body.Properties.ExperimentName = experiment
	body.Properties.DisplayName = request.Name
	body.Properties.Pipeline = raw

	req, err := c.newRequest(ctx, http.MethodPut, c.workspacePath("jobs", jobName), body)
	if err != nil {
		return domain.Job{}, err
	}
	var out jobResource
	if err := c.do(req, &out); err != nil {
		return domain.Job{}, err
	}
	if out.Name == "" {
		out.Name = jobName
	}
	return jobFromResource(out), nil
}

func (c *Client) GetJob(ctx context.Context, name string) (domain.Job, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Job{}, errors.New("job name is required")
	}
	req, err := c.newRequest(ctx, http.MethodGet, c.workspacePath("jobs", name), nil)
	if err != nil {
		return domain.Job{}, err
	}
	var out jobResource
	if err := c.do(req, &out); err != nil {
		return domain.Job{}, err
	}
	return jobFromResource(out), nil
}

func jobFromResource(r jobResource) domain.Job {
	job := domain.Job{
		Name:        r.Name,
		Experiment:  r.Properties.ExperimentName,
		DisplayName: r.Properties.DisplayName,
		Status:      domain.JobStatus(r.Properties.Status),
		CreatedAt:   r.Properties.CreationContext.CreatedAt,
	}
	if studio, ok := r.Properties.Services["Studio"]; ok {
		job.MonitorURL = studio.Endpoint
	}
	return job
}
