package training

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sagemaker"
	"github.com/aws/aws-sdk-go/service/sagemaker/sagemakeriface"

	"github.com/galinamarkova/beeswax-api/internal/models"
)

// linearLearnerAccounts holds the registry account of the built-in linear
// learner image per region.
var linearLearnerAccounts = map[string]string{
	"us-east-1":      "382416733822",
	"us-east-2":      "404615174143",
	"us-west-1":      "632365934929",
	"us-west-2":      "174872318107",
	"eu-west-1":      "438346466558",
	"eu-central-1":   "664544806723",
	"ap-northeast-1": "351501993468",
	"ap-southeast-2": "712309505854",
}

// LinearLearnerImage returns the built-in linear learner image for region.
func LinearLearnerImage(region string) (string, error) {
	account, ok := linearLearnerAccounts[region]
	if !ok {
		return "", fmt.Errorf("no linear-learner image known for region %s; set TRAINING_IMAGE", region)
	}
	return fmt.Sprintf("%s.dkr.ecr.%s.amazonaws.com/linear-learner:1", account, region), nil
}

// SageMakerConfig holds the account-level settings shared by every job.
type SageMakerConfig struct {
	RoleARN      string
	Image        string
	InstanceType string
	MaxRuntime   time.Duration
	VolumeSizeGB int64
}

// SageMakerService implements Service on Amazon SageMaker.
type SageMakerService struct {
	client sagemakeriface.SageMakerAPI
	cfg    SageMakerConfig
}

// NewSageMakerService creates a service from an AWS session.
func NewSageMakerService(sess *session.Session, cfg SageMakerConfig) *SageMakerService {
	return NewSageMakerServiceWithClient(sagemaker.New(sess), cfg)
}

// NewSageMakerServiceWithClient allows injecting a client, e.g. a stub in tests.
func NewSageMakerServiceWithClient(client sagemakeriface.SageMakerAPI, cfg SageMakerConfig) *SageMakerService {
	if cfg.VolumeSizeGB == 0 {
		cfg.VolumeSizeGB = 10
	}
	if cfg.MaxRuntime == 0 {
		cfg.MaxRuntime = time.Hour
	}
	return &SageMakerService{client: client, cfg: cfg}
}

func (s *SageMakerService) SubmitTraining(ctx context.Context, req TrainingRequest) (models.Job, error) {
	if _, ok := req.Channels[ChannelTrain]; !ok {
		return models.Job{}, fmt.Errorf("training job %s has no %s channel", req.Name, ChannelTrain)
	}
	input := &sagemaker.CreateTrainingJobInput{
		TrainingJobName: aws.String(req.Name),
		AlgorithmSpecification: &sagemaker.AlgorithmSpecification{
			TrainingImage:     aws.String(s.cfg.Image),
			TrainingInputMode: aws.String(sagemaker.TrainingInputModeFile),
		},
		RoleArn:           aws.String(s.cfg.RoleARN),
		HyperParameters:   aws.StringMap(req.Hyperparameters),
		InputDataConfig:   s.channels(req.Channels),
		OutputDataConfig:  &sagemaker.OutputDataConfig{S3OutputPath: aws.String(req.OutputPath)},
		ResourceConfig:    s.resources(),
		StoppingCondition: s.stopping(),
	}
	if _, err := s.client.CreateTrainingJobWithContext(ctx, input); err != nil {
		return models.Job{}, fmt.Errorf("create training job %s: %w", req.Name, err)
	}
	now := time.Now()
	return models.Job{
		Name:      req.Name,
		Kind:      models.JobKindTraining,
		Status:    models.JobStatusInProgress,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SageMakerService) DescribeTraining(ctx context.Context, name string) (models.Job, error) {
	out, err := s.client.DescribeTrainingJobWithContext(ctx, &sagemaker.DescribeTrainingJobInput{
		TrainingJobName: aws.String(name),
	})
	if err != nil {
		return models.Job{}, fmt.Errorf("describe training job %s: %w", name, err)
	}
	job := models.Job{
		Name:          name,
		Kind:          models.JobKindTraining,
		Status:        models.JobStatus(aws.StringValue(out.TrainingJobStatus)),
		FailureReason: aws.StringValue(out.FailureReason),
		CreatedAt:     aws.TimeValue(out.CreationTime),
		UpdatedAt:     aws.TimeValue(out.LastModifiedTime),
	}
	if out.ModelArtifacts != nil {
		job.ArtifactURI = aws.StringValue(out.ModelArtifacts.S3ModelArtifacts)
	}
	return job, nil
}

func (s *SageMakerService) SubmitTuning(ctx context.Context, req TuningRequest) (models.Job, error) {
	ranges, err := parameterRanges(req.Ranges)
	if err != nil {
		return models.Job{}, err
	}
	input := &sagemaker.CreateHyperParameterTuningJobInput{
		HyperParameterTuningJobName: aws.String(req.Name),
		HyperParameterTuningJobConfig: &sagemaker.HyperParameterTuningJobConfig{
			Strategy: aws.String(req.Strategy),
			HyperParameterTuningJobObjective: &sagemaker.HyperParameterTuningJobObjective{
				MetricName: aws.String(req.Objective),
				Type:       aws.String(req.ObjectiveType),
			},
			ResourceLimits: &sagemaker.ResourceLimits{
				MaxNumberOfTrainingJobs: aws.Int64(int64(req.MaxJobs)),
				MaxParallelTrainingJobs: aws.Int64(int64(req.MaxParallel)),
			},
			ParameterRanges: ranges,
		},
		TrainingJobDefinition: &sagemaker.HyperParameterTrainingJobDefinition{
			AlgorithmSpecification: &sagemaker.HyperParameterAlgorithmSpecification{
				TrainingImage:     aws.String(s.cfg.Image),
				TrainingInputMode: aws.String(sagemaker.TrainingInputModeFile),
			},
			RoleArn:               aws.String(s.cfg.RoleARN),
			StaticHyperParameters: aws.StringMap(req.Training.Hyperparameters),
			InputDataConfig:       s.channels(req.Training.Channels),
			OutputDataConfig:      &sagemaker.OutputDataConfig{S3OutputPath: aws.String(req.Training.OutputPath)},
			ResourceConfig:        s.resources(),
			StoppingCondition:     s.stopping(),
		},
	}
	if _, err := s.client.CreateHyperParameterTuningJobWithContext(ctx, input); err != nil {
		return models.Job{}, fmt.Errorf("create tuning job %s: %w", req.Name, err)
	}
	now := time.Now()
	return models.Job{
		Name:      req.Name,
		Kind:      models.JobKindTuning,
		Status:    models.JobStatusInProgress,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SageMakerService) DescribeTuning(ctx context.Context, name string) (TuningStatus, error) {
	out, err := s.client.DescribeHyperParameterTuningJobWithContext(ctx, &sagemaker.DescribeHyperParameterTuningJobInput{
		HyperParameterTuningJobName: aws.String(name),
	})
	if err != nil {
		return TuningStatus{}, fmt.Errorf("describe tuning job %s: %w", name, err)
	}
	status := TuningStatus{
		Job: models.Job{
			Name:          name,
			Kind:          models.JobKindTuning,
			Status:        models.JobStatus(aws.StringValue(out.HyperParameterTuningJobStatus)),
			FailureReason: aws.StringValue(out.FailureReason),
			CreatedAt:     aws.TimeValue(out.CreationTime),
			UpdatedAt:     aws.TimeValue(out.LastModifiedTime),
		},
	}
	if best := out.BestTrainingJob; best != nil {
		status.BestTrainingJob = aws.StringValue(best.TrainingJobName)
		status.BestHyperparameters = models.Hyperparameters(aws.StringValueMap(best.TunedHyperParameters))
		if m := best.FinalHyperParameterTuningJobObjectiveMetric; m != nil {
			status.BestObjective = aws.Float64Value(m.Value)
		}
	}
	return status, nil
}

// Deploy creates a model, an endpoint config and an endpoint, all named req.Name.
func (s *SageMakerService) Deploy(ctx context.Context, req DeployRequest) (models.Job, error) {
	if req.ArtifactURI == "" {
		return models.Job{}, fmt.Errorf("deploy %s: artifact uri is required", req.Name)
	}
	count := req.InstanceCount
	if count < 1 {
		count = 1
	}

	if _, err := s.client.CreateModelWithContext(ctx, &sagemaker.CreateModelInput{
		ModelName:        aws.String(req.Name),
		ExecutionRoleArn: aws.String(s.cfg.RoleARN),
		PrimaryContainer: &sagemaker.ContainerDefinition{
			Image:        aws.String(s.cfg.Image),
			ModelDataUrl: aws.String(req.ArtifactURI),
		},
	}); err != nil {
		return models.Job{}, fmt.Errorf("create model %s: %w", req.Name, err)
	}

	if _, err := s.client.CreateEndpointConfigWithContext(ctx, &sagemaker.CreateEndpointConfigInput{
		EndpointConfigName: aws.String(req.Name),
		ProductionVariants: []*sagemaker.ProductionVariant{{
			VariantName:          aws.String("AllTraffic"),
			ModelName:            aws.String(req.Name),
			InitialInstanceCount: aws.Int64(int64(count)),
			InstanceType:         aws.String(req.InstanceType),
			InitialVariantWeight: aws.Float64(1),
		}},
	}); err != nil {
		return models.Job{}, fmt.Errorf("create endpoint config %s: %w", req.Name, err)
	}

	if _, err := s.client.CreateEndpointWithContext(ctx, &sagemaker.CreateEndpointInput{
		EndpointName:       aws.String(req.Name),
		EndpointConfigName: aws.String(req.Name),
	}); err != nil {
		return models.Job{}, fmt.Errorf("create endpoint %s: %w", req.Name, err)
	}

	now := time.Now()
	return models.Job{
		Name:        req.Name,
		Kind:        models.JobKindEndpoint,
		Status:      models.JobStatusCreating,
		ArtifactURI: req.ArtifactURI,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (s *SageMakerService) DescribeEndpoint(ctx context.Context, name string) (models.Job, error) {
	out, err := s.client.DescribeEndpointWithContext(ctx, &sagemaker.DescribeEndpointInput{
		EndpointName: aws.String(name),
	})
	if err != nil {
		return models.Job{}, fmt.Errorf("describe endpoint %s: %w", name, err)
	}
	return models.Job{
		Name:          name,
		Kind:          models.JobKindEndpoint,
		Status:        models.JobStatus(aws.StringValue(out.EndpointStatus)),
		FailureReason: aws.StringValue(out.FailureReason),
		CreatedAt:     aws.TimeValue(out.CreationTime),
		UpdatedAt:     aws.TimeValue(out.LastModifiedTime),
	}, nil
}

// channels builds CSV input channels in name order.
func (s *SageMakerService) channels(uris map[string]string) []*sagemaker.Channel {
	names := make([]string, 0, len(uris))
	for name := range uris {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]*sagemaker.Channel, 0, len(names))
	for _, name := range names {
		out = append(out, &sagemaker.Channel{
			ChannelName: aws.String(name),
			ContentType: aws.String("text/csv"),
			DataSource: &sagemaker.DataSource{
				S3DataSource: &sagemaker.S3DataSource{
					S3DataType:             aws.String(sagemaker.S3DataTypeS3prefix),
					S3Uri:                  aws.String(uris[name]),
					S3DataDistributionType: aws.String(sagemaker.S3DataDistributionFullyReplicated),
				},
			},
		})
	}
	return out
}

func (s *SageMakerService) resources() *sagemaker.ResourceConfig {
	return &sagemaker.ResourceConfig{
		InstanceCount:  aws.Int64(1),
		InstanceType:   aws.String(s.cfg.InstanceType),
		VolumeSizeInGB: aws.Int64(s.cfg.VolumeSizeGB),
	}
}

func (s *SageMakerService) stopping() *sagemaker.StoppingCondition {
	return &sagemaker.StoppingCondition{
		MaxRuntimeInSeconds: aws.Int64(int64(s.cfg.MaxRuntime / time.Second)),
	}
}

func parameterRanges(ranges []models.ParameterRange) (*sagemaker.ParameterRanges, error) {
	out := &sagemaker.ParameterRanges{}
	for _, r := range ranges {
		switch r.Type {
		case models.RangeContinuous:
			out.ContinuousParameterRanges = append(out.ContinuousParameterRanges, &sagemaker.ContinuousParameterRange{
				Name:        aws.String(r.Name),
				MinValue:    aws.String(strconv.FormatFloat(r.Min, 'g', -1, 64)),
				MaxValue:    aws.String(strconv.FormatFloat(r.Max, 'g', -1, 64)),
				ScalingType: aws.String(scaling(r.Scaling)),
			})
		case models.RangeInteger:
			out.IntegerParameterRanges = append(out.IntegerParameterRanges, &sagemaker.IntegerParameterRange{
				Name:        aws.String(r.Name),
				MinValue:    aws.String(strconv.FormatInt(int64(r.Min), 10)),
				MaxValue:    aws.String(strconv.FormatInt(int64(r.Max), 10)),
				ScalingType: aws.String(scaling(r.Scaling)),
			})
		case models.RangeCategorical:
			out.CategoricalParameterRanges = append(out.CategoricalParameterRanges, &sagemaker.CategoricalParameterRange{
				Name:   aws.String(r.Name),
				Values: aws.StringSlice(r.Values),
			})
		default:
			return nil, fmt.Errorf("parameter %s: unknown range type %q", r.Name, r.Type)
		}
	}
	return out, nil
}

func scaling(s string) string {
	if s == "" {
		return sagemaker.HyperParameterScalingTypeAuto
	}
	return s
}
