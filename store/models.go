package store

import "time"

// Task status enum, shared by EncodeTask and MetricTask. The
// coordinator assigns Created; the worker drives Downloading through
// Uploading via side effects on GET/POST; Complete is only reached
// after a successful artifact write.
const (
	StatusCreated = iota
	StatusQueued
	StatusDownloading
	StatusInProgress
	StatusUploading
	StatusComplete
)

const (
	CodecH264 = "h264"
	CodecH265 = "h265"

	EncodeTypeCRF = "crf"
	EncodeTypeABR = "abr"
)

// File is a probed media artifact, referenced (not owned) by tasks.
type File struct {
	ID         int64
	Name       string
	Directory  string
	SizeBytes  int64
	Duration   float64
	FrameRate  float64
	Frames     int64
	ProbeInfo  string // opaque JSON blob from ffprobe
}

// InFlight reports whether this File has not yet been fully written
// to disk and probed - size==0 or duration==0 means "don't trust me yet".
func (f File) InFlight() bool {
	return f.SizeBytes == 0 || f.Duration == 0
}

type Profile struct {
	ID                    int64
	Name                  string
	Description           string
	Codec                 string
	EncodeType            string
	EncodeValue           int
	Preset                string
	Tune                  string
	ExtraArgs             string
	KeepOriginalMainAudio bool
}

type EncodeTask struct {
	ID             int64
	SourceFile     File
	CompressedFile *File
	Profile        Profile

	// EncodeType/EncodeValue start as a copy of the profile's values;
	// the worker reports the parameters the control loop finally
	// settled on in its progress POSTs after the encode finishes.
	EncodeType  string
	EncodeValue int

	Worker           string
	Status           int
	Progress         float64
	EncodeFramerate  float64
	SecondsRemaining int

	EncodeStartDatetime *time.Time
	EncodeEndDatetime   *time.Time
}

type MetricTask struct {
	ID             int64
	SourceFile     File
	CompressedFile File

	PSNR          bool
	MSSSIM        bool
	VMAF          bool
	NegMode       bool
	SubsampleRate int

	Worker              string
	Status              int
	Progress            float64
	ProcessingFramerate float64
	SecondsRemaining    int

	AnalyzeStartDatetime *time.Time
	AnalyzeEndDatetime   *time.Time
}

type Frame struct {
	TaskID     int64
	FrameNum   int
	PSNR       *float64
	MSSSIM     *float64
	VMAF       *float64
}

// PooledMetric is the shape shared by PooledPSNR/PooledMSSSIM/PooledVMAF;
// the Metric field records which table it belongs to.
type PooledMetric struct {
	TaskID            int64
	Metric            string
	Min               float64
	Max               float64
	Mean              float64
	HarmonicMean      float64
	OnePercentLow     float64
	PointOnePercentLow float64
}

const (
	MetricPSNR   = "psnr"
	MetricMSSSIM = "ms_ssim"
	MetricVMAF   = "vmaf"
)
