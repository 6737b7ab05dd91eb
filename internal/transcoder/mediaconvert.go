package transcoder

import (
	"context"
	"errors"
	"log/slog"
	"path"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/mediaconvert"
	mctypes "github.com/aws/aws-sdk-go-v2/service/mediaconvert/types"
	"github.com/aws/smithy-go"

	"vidconv/internal/blobstore"
	"vidconv/internal/config"
	"vidconv/internal/logging"
	"vidconv/internal/services"
)

const (
	audioSelectorName = "Audio Selector 1"
	gopSizeFrames     = 90
	audioBitrate      = 128000
	audioSampleRate   = 48000
)

// MediaConvertAPI is the subset of the MediaConvert client used here.
type MediaConvertAPI interface {
	CreateJob(ctx context.Context, in *mediaconvert.CreateJobInput, optFns ...func(*mediaconvert.Options)) (*mediaconvert.CreateJobOutput, error)
	GetJob(ctx context.Context, in *mediaconvert.GetJobInput, optFns ...func(*mediaconvert.Options)) (*mediaconvert.GetJobOutput, error)
	CancelJob(ctx context.Context, in *mediaconvert.CancelJobInput, optFns ...func(*mediaconvert.Options)) (*mediaconvert.CancelJobOutput, error)
}

// MediaConvert runs jobs on AWS Elemental MediaConvert.
type MediaConvert struct {
	bucket    string
	role      string
	endpoints *EndpointCache
	newClient func(endpoint string) MediaConvertAPI
	logger    *slog.Logger

	mu     sync.Mutex
	client MediaConvertAPI
}

// NewMediaConvert builds a backend whose client is created lazily against the
// account endpoint.
func NewMediaConvert(awsCfg aws.Config, cfg config.AWS, logger *slog.Logger) *MediaConvert {
	discovery := mediaconvert.NewFromConfig(awsCfg)
	describe := func(ctx context.Context) (string, error) {
		out, err := discovery.DescribeEndpoints(ctx, &mediaconvert.DescribeEndpointsInput{MaxResults: aws.Int32(1)})
		if err != nil {
			return "", err
		}
		if len(out.Endpoints) == 0 {
			return "", nil
		}
		return aws.ToString(out.Endpoints[0].Url), nil
	}
	return &MediaConvert{
		bucket:    cfg.Bucket,
		role:      cfg.MediaConvertRoleARN,
		endpoints: NewEndpointCache(cfg.MediaConvertEndpoint, describe, logger),
		newClient: func(endpoint string) MediaConvertAPI {
			return mediaconvert.NewFromConfig(awsCfg, func(o *mediaconvert.Options) {
				o.BaseEndpoint = aws.String(endpoint)
			})
		},
		logger: logging.NewComponentLogger(logger, "mediaconvert"),
	}
}

// NewMediaConvertWithClient wires a ready client, for tests.
func NewMediaConvertWithClient(client MediaConvertAPI, bucket, role string, logger *slog.Logger) *MediaConvert {
	return &MediaConvert{
		bucket: bucket,
		role:   role,
		client: client,
		logger: logging.NewComponentLogger(logger, "mediaconvert"),
	}
}

func (m *MediaConvert) api(ctx context.Context) (MediaConvertAPI, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		return m.client, nil
	}
	if m.endpoints == nil || m.newClient == nil {
		return nil, services.Wrap(services.ErrConfiguration, "transcode", "mediaconvert client", "client not configured", nil)
	}
	endpoint, err := m.endpoints.Get(ctx)
	if err != nil {
		return nil, err
	}
	m.client = m.newClient(endpoint)
	return m.client, nil
}

func (m *MediaConvert) s3URI(key string) string {
	return "s3://" + m.bucket + "/" + strings.TrimPrefix(key, "/")
}

// Submit creates a MediaConvert job for the request.
func (m *MediaConvert) Submit(ctx context.Context, req Request) (string, error) {
	if err := validateRequest(req); err != nil {
		return "", services.Wrap(services.ErrValidation, "transcode", "submit", "invalid request", err)
	}
	client, err := m.api(ctx)
	if err != nil {
		return "", err
	}
	out, err := client.CreateJob(ctx, &mediaconvert.CreateJobInput{
		Role:     aws.String(m.role),
		Settings: JobSettings(m.s3URI(req.SourceKey), m.s3URI(req.OutputPrefix), req.Preset.QualityLevel, req.Preset.MaxBitrate),
		UserMetadata: map[string]string{
			"task_id": req.TaskID,
			"file_id": req.FileID,
			"preset":  req.Preset.Name,
		},
	})
	if err != nil {
		marker := services.ErrExternalTool
		if isRateLimited(err) {
			marker = services.ErrTransient
		}
		return "", services.Wrap(marker, "transcode", "create job", "mediaconvert rejected job", err)
	}
	if out.Job == nil || aws.ToString(out.Job.Id) == "" {
		return "", services.Wrap(services.ErrExternalTool, "transcode", "create job", "mediaconvert returned no job id", nil)
	}
	jobID := aws.ToString(out.Job.Id)
	m.logger.Info("mediaconvert job submitted",
		logging.String(logging.FieldJobID, jobID),
		logging.String(logging.FieldPreset, req.Preset.Name),
		logging.String(logging.FieldTaskID, req.TaskID),
		logging.String(logging.FieldFileID, req.FileID),
	)
	return jobID, nil
}

// Status maps the MediaConvert job onto a Status.
func (m *MediaConvert) Status(ctx context.Context, jobID string) (Status, error) {
	client, err := m.api(ctx)
	if err != nil {
		return Status{}, err
	}
	out, err := client.GetJob(ctx, &mediaconvert.GetJobInput{Id: aws.String(jobID)})
	if err != nil {
		if isMissingJob(err) {
			return Status{}, services.Wrap(services.ErrNotFound, "transcode", "get job", jobID, err)
		}
		return Status{}, services.Wrap(services.ErrTransient, "transcode", "get job", jobID, err)
	}
	if out.Job == nil {
		return Status{}, services.Wrap(services.ErrNotFound, "transcode", "get job", jobID, nil)
	}
	return statusFromJob(m.bucket, out.Job), nil
}

// Cancel stops a queued or running job.
func (m *MediaConvert) Cancel(ctx context.Context, jobID string) error {
	if strings.TrimSpace(jobID) == "" {
		return nil
	}
	client, err := m.api(ctx)
	if err != nil {
		return err
	}
	if _, err := client.CancelJob(ctx, &mediaconvert.CancelJobInput{Id: aws.String(jobID)}); err != nil {
		if isMissingJob(err) || isFinishedJob(err) {
			m.logger.Debug("mediaconvert job already gone", logging.String(logging.FieldJobID, jobID))
			return nil
		}
		return services.Wrap(services.ErrExternalTool, "transcode", "cancel job", jobID, err)
	}
	m.logger.Info("mediaconvert job cancelled", logging.String(logging.FieldJobID, jobID))
	return nil
}

func statusFromJob(bucket string, job *mctypes.Job) Status {
	status := Status{Percent: int(aws.ToInt32(job.JobPercentComplete))}
	switch job.Status {
	case mctypes.JobStatusSubmitted:
		status.State = StateSubmitted
	case mctypes.JobStatusProgressing:
		status.State = StateProgressing
	case mctypes.JobStatusComplete:
		status.State = StateComplete
		status.Percent = 100
		status.OutputKey = outputKeyFromSettings(bucket, job.Settings)
	case mctypes.JobStatusCanceled:
		status.State = StateError
		status.ErrorMessage = "job cancelled"
	default:
		status.State = StateError
		status.ErrorCode = int(aws.ToInt32(job.ErrorCode))
		status.ErrorMessage = aws.ToString(job.ErrorMessage)
		if status.ErrorMessage == "" {
			status.ErrorMessage = "unknown error"
		}
	}
	return status
}

// outputKeyFromSettings rebuilds destination + input stem + name modifier + extension.
func outputKeyFromSettings(bucket string, settings *mctypes.JobSettings) string {
	if settings == nil || len(settings.Inputs) == 0 || len(settings.OutputGroups) == 0 {
		return ""
	}
	group := settings.OutputGroups[0]
	if group.OutputGroupSettings == nil || group.OutputGroupSettings.FileGroupSettings == nil || len(group.Outputs) == 0 {
		return ""
	}
	destination := aws.ToString(group.OutputGroupSettings.FileGroupSettings.Destination)
	output := group.Outputs[0]
	extension := aws.ToString(output.Extension)
	if extension == "" {
		extension = strings.TrimPrefix(blobstore.OutputExtension, ".")
	}
	input := path.Base(aws.ToString(settings.Inputs[0].FileInput))
	stem := strings.TrimSuffix(input, path.Ext(input))
	uri := destination + stem + aws.ToString(output.NameModifier) + "." + extension
	return strings.TrimPrefix(uri, "s3://"+bucket+"/")
}

func isMissingJob(err error) bool {
	var notFound *mctypes.NotFoundException
	if errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "NotFoundException"
}

func isFinishedJob(err error) bool {
	var conflict *mctypes.ConflictException
	if errors.As(err, &conflict) {
		return true
	}
	var badRequest *mctypes.BadRequestException
	return errors.As(err, &badRequest)
}

// JobSettings builds the H.265 QVBR MP4 output used for every preset.
func JobSettings(sourceURI, destinationURI string, qualityLevel, maxBitrate int) *mctypes.JobSettings {
	if !strings.HasSuffix(destinationURI, "/") {
		destinationURI += "/"
	}
	return &mctypes.JobSettings{
		Inputs: []mctypes.Input{{
			FileInput: aws.String(sourceURI),
			AudioSelectors: map[string]mctypes.AudioSelector{
				audioSelectorName: {DefaultSelection: mctypes.AudioDefaultSelectionDefault},
			},
			VideoSelector:  &mctypes.VideoSelector{},
			TimecodeSource: mctypes.InputTimecodeSourceZerobased,
		}},
		OutputGroups: []mctypes.OutputGroup{{
			Name: aws.String("File Group"),
			OutputGroupSettings: &mctypes.OutputGroupSettings{
				Type: mctypes.OutputGroupTypeFileGroupSettings,
				FileGroupSettings: &mctypes.FileGroupSettings{
					Destination: aws.String(destinationURI),
				},
			},
			Outputs: []mctypes.Output{{
				NameModifier: aws.String(blobstore.OutputSuffix),
				Extension:    aws.String(strings.TrimPrefix(blobstore.OutputExtension, ".")),
				ContainerSettings: &mctypes.ContainerSettings{
					Container: mctypes.ContainerTypeMp4,
					Mp4Settings: &mctypes.Mp4Settings{
						CslgAtom:      mctypes.Mp4CslgAtomInclude,
						FreeSpaceBox:  mctypes.Mp4FreeSpaceBoxExclude,
						MoovPlacement: mctypes.Mp4MoovPlacementProgressiveDownload,
					},
				},
				VideoDescription: videoDescription(qualityLevel, maxBitrate),
				AudioDescriptions: []mctypes.AudioDescription{{
					AudioSourceName: aws.String(audioSelectorName),
					CodecSettings: &mctypes.AudioCodecSettings{
						Codec: mctypes.AudioCodecAac,
						AacSettings: &mctypes.AacSettings{
							Bitrate:                        aws.Int32(audioBitrate),
							CodingMode:                     mctypes.AacCodingModeCodingMode20,
							SampleRate:                     aws.Int32(audioSampleRate),
							RateControlMode:                mctypes.AacRateControlModeCbr,
							RawFormat:                      mctypes.AacRawFormatNone,
							Specification:                  mctypes.AacSpecificationMpeg4,
							AudioDescriptionBroadcasterMix: mctypes.AacAudioDescriptionBroadcasterMixNormal,
						},
					},
				}},
			}},
		}},
		TimecodeConfig: &mctypes.TimecodeConfig{Source: mctypes.TimecodeSourceZerobased},
	}
}

func videoDescription(qualityLevel, maxBitrate int) *mctypes.VideoDescription {
	return &mctypes.VideoDescription{
		CodecSettings: &mctypes.VideoCodecSettings{
			Codec: mctypes.VideoCodecH265,
			H265Settings: &mctypes.H265Settings{
				RateControlMode: mctypes.H265RateControlModeQvbr,
				QvbrSettings: &mctypes.H265QvbrSettings{
					QvbrQualityLevel:         aws.Int32(int32(qualityLevel)),
					QvbrQualityLevelFineTune: aws.Float64(0),
				},
				MaxBitrate:                          aws.Int32(int32(maxBitrate)),
				GopSize:                             aws.Float64(gopSizeFrames),
				GopSizeUnits:                        mctypes.H265GopSizeUnitsFrames,
				ParNumerator:                        aws.Int32(1),
				ParDenominator:                      aws.Int32(1),
				ParControl:                          mctypes.H265ParControlSpecified,
				NumberBFramesBetweenReferenceFrames: aws.Int32(3),
				NumberReferenceFrames:               aws.Int32(3),
				Slices:                              aws.Int32(1),
				InterlaceMode:                       mctypes.H265InterlaceModeProgressive,
				SceneChangeDetect:                   mctypes.H265SceneChangeDetectEnabled,
				MinIInterval:                        aws.Int32(0),
				AdaptiveQuantization:                mctypes.H265AdaptiveQuantizationHigh,
				FlickerAdaptiveQuantization:         mctypes.H265FlickerAdaptiveQuantizationEnabled,
				SpatialAdaptiveQuantization:         mctypes.H265SpatialAdaptiveQuantizationEnabled,
				TemporalAdaptiveQuantization:        mctypes.H265TemporalAdaptiveQuantizationEnabled,
				UnregisteredSeiTimecode:             mctypes.H265UnregisteredSeiTimecodeDisabled,
				SampleAdaptiveOffsetFilterMode:      mctypes.H265SampleAdaptiveOffsetFilterModeAdaptive,
				WriteMp4PackagingType:               mctypes.H265WriteMp4PackagingTypeHvc1,
				AlternateTransferFunctionSei:        mctypes.H265AlternateTransferFunctionSeiDisabled,
			},
		},
		ScalingBehavior:   mctypes.ScalingBehaviorDefault,
		TimecodeInsertion: mctypes.VideoTimecodeInsertionDisabled,
		AntiAlias:         mctypes.AntiAliasEnabled,
		Sharpness:         aws.Int32(50),
		AfdSignaling:      mctypes.AfdSignalingNone,
		DropFrameTimecode: mctypes.DropFrameTimecodeEnabled,
		RespondToAfd:      mctypes.RespondToAfdNone,
		ColorMetadata:     mctypes.ColorMetadataInsert,
	}
}
