package transcribe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	awstranscribe "github.com/aws/aws-sdk-go-v2/service/transcribe"
	ttypes "github.com/aws/aws-sdk-go-v2/service/transcribe/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"
	"github.com/snarg/scriptsync/internal/align"
)

// s3API is the subset of the S3 client used to stage media and fetch results.
type s3API interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// transcribeAPI is the subset of the AWS Transcribe client used here.
type transcribeAPI interface {
	StartTranscriptionJob(ctx context.Context, in *awstranscribe.StartTranscriptionJobInput, optFns ...func(*awstranscribe.Options)) (*awstranscribe.StartTranscriptionJobOutput, error)
	GetTranscriptionJob(ctx context.Context, in *awstranscribe.GetTranscriptionJobInput, optFns ...func(*awstranscribe.Options)) (*awstranscribe.GetTranscriptionJobOutput, error)
}

// AWSOptions configures the AWS Transcribe provider.
type AWSOptions struct {
	Region      string
	Bucket      string        // staging bucket for media and results
	PollEvery   time.Duration // job status poll interval
	KeepObjects bool          // leave staged media in the bucket
	Log         zerolog.Logger
}

// AWSClient runs batch jobs on AWS Transcribe: stage the audio in S3, start
// (or reuse) a job named after the audio hash, poll until it finishes and
// read the result JSON back from the bucket.
type AWSClient struct {
	s3         s3API
	transcribe transcribeAPI
	opts       AWSOptions
	log        zerolog.Logger
}

// NewAWSClient loads the default AWS credential chain for opts.Region.
func NewAWSClient(ctx context.Context, opts AWSOptions) (*AWSClient, error) {
	if opts.Bucket == "" {
		return nil, errors.New("aws transcribe: bucket is required")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(opts.Region))
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}
	return newAWSClient(s3.NewFromConfig(awsCfg), awstranscribe.NewFromConfig(awsCfg), opts), nil
}

func newAWSClient(s3c s3API, tc transcribeAPI, opts AWSOptions) *AWSClient {
	if opts.PollEvery <= 0 {
		opts.PollEvery = 5 * time.Second
	}
	return &AWSClient{
		s3:         s3c,
		transcribe: tc,
		opts:       opts,
		log:        opts.Log.With().Str("component", "aws-transcribe").Logger(),
	}
}

func (c *AWSClient) Name() string  { return "aws" }
func (c *AWSClient) Model() string { return "aws-transcribe" }

func (c *AWSClient) Transcribe(ctx context.Context, audioPath string, opts Options) (*Response, error) {
	hash, err := fileHash(audioPath)
	if err != nil {
		return nil, err
	}

	lang := awsLanguageCode(opts.Language)
	jobName := fmt.Sprintf("scriptsync-%s-%s", hash[:16], strings.ToLower(string(lang)))
	if lang == "" {
		jobName = fmt.Sprintf("scriptsync-%s-auto", hash[:16])
	}
	mediaKey := fmt.Sprintf("scriptsync/uploads/%s_%s", hash[:16], filepath.Base(audioPath))
	outputKey := fmt.Sprintf("scriptsync/results/%s.json", jobName)

	if err := c.stageMedia(ctx, mediaKey, audioPath); err != nil {
		return nil, err
	}
	if !c.opts.KeepObjects {
		defer func() {
			_, err := c.s3.DeleteObject(context.WithoutCancel(ctx), &s3.DeleteObjectInput{
				Bucket: aws.String(c.opts.Bucket),
				Key:    aws.String(mediaKey),
			})
			if err != nil {
				c.log.Warn().Err(err).Str("key", mediaKey).Msg("failed to remove staged media")
			}
		}()
	}

	if err := c.ensureJob(ctx, jobName, mediaKey, outputKey, audioPath, lang); err != nil {
		return nil, err
	}
	if err := c.waitForJob(ctx, jobName); err != nil {
		return nil, err
	}

	out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.opts.Bucket),
		Key:    aws.String(outputKey),
	})
	if err != nil {
		return nil, fmt.Errorf("fetch transcript %s: %w", outputKey, err)
	}
	defer out.Body.Close()

	var result awsResult
	if err := json.NewDecoder(out.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode transcript: %w", err)
	}

	resp := result.toResponse()
	resp.Provider = c.Name()
	resp.Model = c.Model()
	if resp.Language == "" {
		resp.Language = string(lang)
	}
	return resp, nil
}

func (c *AWSClient) stageMedia(ctx context.Context, key, audioPath string) error {
	_, err := c.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.opts.Bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		c.log.Debug().Str("key", key).Msg("media already staged")
		return nil
	}
	if !isNotFound(err) {
		return fmt.Errorf("check staged media: %w", err)
	}

	f, err := os.Open(audioPath)
	if err != nil {
		return fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	if _, err := c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.opts.Bucket),
		Key:    aws.String(key),
		Body:   f,
	}); err != nil {
		return fmt.Errorf("stage media: %w", err)
	}
	return nil
}

// ensureJob starts the job unless one with the same name already exists,
// which happens when the same audio is submitted twice.
func (c *AWSClient) ensureJob(ctx context.Context, jobName, mediaKey, outputKey, audioPath string, lang ttypes.LanguageCode) error {
	_, err := c.transcribe.GetTranscriptionJob(ctx, &awstranscribe.GetTranscriptionJobInput{
		TranscriptionJobName: aws.String(jobName),
	})
	if err == nil {
		c.log.Info().Str("job", jobName).Msg("reusing existing transcription job")
		return nil
	}
	if !isNotFound(err) {
		return fmt.Errorf("get transcription job: %w", err)
	}

	in := &awstranscribe.StartTranscriptionJobInput{
		TranscriptionJobName: aws.String(jobName),
		Media:                &ttypes.Media{MediaFileUri: aws.String(fmt.Sprintf("s3://%s/%s", c.opts.Bucket, mediaKey))},
		OutputBucketName:     aws.String(c.opts.Bucket),
		OutputKey:            aws.String(outputKey),
	}
	if f := awsMediaFormat(audioPath); f != "" {
		in.MediaFormat = f
	}
	if lang != "" {
		in.LanguageCode = lang
	} else {
		in.IdentifyLanguage = aws.Bool(true)
	}

	if _, err := c.transcribe.StartTranscriptionJob(ctx, in); err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "ConflictException" {
			return nil
		}
		return fmt.Errorf("start transcription job: %w", err)
	}
	c.log.Info().Str("job", jobName).Msg("transcription job started")
	return nil
}

func (c *AWSClient) waitForJob(ctx context.Context, jobName string) error {
	ticker := time.NewTicker(c.opts.PollEvery)
	defer ticker.Stop()

	for {
		out, err := c.transcribe.GetTranscriptionJob(ctx, &awstranscribe.GetTranscriptionJobInput{
			TranscriptionJobName: aws.String(jobName),
		})
		if err != nil {
			return fmt.Errorf("poll transcription job: %w", err)
		}
		job := out.TranscriptionJob
		switch job.TranscriptionJobStatus {
		case ttypes.TranscriptionJobStatusCompleted:
			return nil
		case ttypes.TranscriptionJobStatusFailed:
			return fmt.Errorf("transcription job %s failed: %s", jobName, aws.ToString(job.FailureReason))
		}
		c.log.Debug().Str("job", jobName).Str("status", string(job.TranscriptionJobStatus)).Msg("waiting for transcription job")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// isNotFound reports whether an AWS error means the object or job is absent.
func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var nf *s3types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NotFoundException", "NoSuchKey", "404":
			return true
		case "BadRequestException":
			return strings.Contains(apiErr.ErrorMessage(), "couldn't be found")
		}
	}
	return false
}

// awsResult is the transcript JSON AWS Transcribe writes to the bucket.
type awsResult struct {
	Results struct {
		LanguageCode string `json:"language_code"`
		Transcripts  []struct {
			Transcript string `json:"transcript"`
		} `json:"transcripts"`
		Items []awsItem `json:"items"`
	} `json:"results"`
}

type awsItem struct {
	StartTime    string `json:"start_time,omitempty"`
	EndTime      string `json:"end_time,omitempty"`
	Type         string `json:"type"` // "pronunciation" or "punctuation"
	Alternatives []struct {
		Content string `json:"content"`
	} `json:"alternatives"`
}

// toResponse turns pronunciation items into timed words. Punctuation is
// attached to the preceding word, and sentence-final punctuation closes a
// segment.
func (r awsResult) toResponse() *Response {
	resp := &Response{Language: r.Results.LanguageCode}
	if len(r.Results.Transcripts) > 0 {
		resp.Text = r.Results.Transcripts[0].Transcript
	}

	var segs []align.Segment
	var cur []align.TimedWord
	flush := func() {
		if len(cur) == 0 {
			return
		}
		texts := make([]string, len(cur))
		for i, w := range cur {
			texts[i] = w.Text
		}
		segs = append(segs, align.Segment{
			Text:  strings.Join(texts, " "),
			Start: cur[0].Start,
			End:   cur[len(cur)-1].End,
			Words: cur,
		})
		cur = nil
	}

	for _, item := range r.Results.Items {
		if len(item.Alternatives) == 0 {
			continue
		}
		content := item.Alternatives[0].Content
		switch item.Type {
		case "pronunciation":
			start, _ := strconv.ParseFloat(item.StartTime, 64)
			end, _ := strconv.ParseFloat(item.EndTime, 64)
			cur = append(cur, newWord(content, start, end))
		case "punctuation":
			if len(cur) > 0 {
				cur[len(cur)-1].Text += content
			}
			if content == "." || content == "?" || content == "!" {
				flush()
			}
		}
	}
	flush()

	resp.Segments = segs
	if n := len(segs); n > 0 {
		resp.Duration = segs[n-1].End
	}
	return resp
}

var awsLanguages = map[string]ttypes.LanguageCode{
	"en": ttypes.LanguageCodeEnUs,
	"de": ttypes.LanguageCodeDeDe,
	"fr": ttypes.LanguageCodeFrFr,
	"es": ttypes.LanguageCodeEsUs,
	"it": ttypes.LanguageCodeItIt,
	"pt": ttypes.LanguageCodePtBr,
	"ja": ttypes.LanguageCodeJaJp,
	"zh": ttypes.LanguageCodeZhCn,
	"hi": ttypes.LanguageCodeHiIn,
}

// awsLanguageCode maps a bare ISO-639-1 code to the AWS locale. Full locales
// pass through. "auto" and unknown codes return "" which enables language
// identification.
func awsLanguageCode(lang string) ttypes.LanguageCode {
	lang = strings.TrimSpace(lang)
	if strings.Contains(lang, "-") {
		return ttypes.LanguageCode(lang)
	}
	return awsLanguages[strings.ToLower(lang)]
}

func awsMediaFormat(path string) ttypes.MediaFormat {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")) {
	case "mp3":
		return ttypes.MediaFormatMp3
	case "mp4":
		return ttypes.MediaFormatMp4
	case "m4a":
		return ttypes.MediaFormatM4a
	case "wav":
		return ttypes.MediaFormatWav
	case "flac":
		return ttypes.MediaFormatFlac
	case "ogg":
		return ttypes.MediaFormatOgg
	case "webm":
		return ttypes.MediaFormatWebm
	case "amr":
		return ttypes.MediaFormatAmr
	}
	return ""
}

func fileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash audio file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
