package capture

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"deckcap/clock"
	"deckcap/device"
	"deckcap/queue"
	"deckcap/timing"

	hash "github.com/mitchellh/hashstructure/v2"
	"github.com/pkg/errors"
)

const (
	DefaultDeviceNumber         = 0
	DefaultPersistentID   int64 = -1
	DefaultBufferSize           = queue.DefaultCapacity
	DefaultTimecodeFormat       = device.TimecodeRP188Any

	DefaultAlignmentThreshold = 40 * time.Millisecond
	DefaultDiscontWait        = time.Second
	DefaultSampleRate         = 48000
	DefaultSampleDepth        = 16
	DefaultChannels           = 2

	// NoSignalResetCount is how many no-signal frames in a row make the time
	// mapping start over once the signal is back.
	NoSignalResetCount = 10
)

type Options struct {
	Name               string                `hash:"ignore"`
	DeviceNumber       int                   `json:"device_number"`
	PersistentID       int64                 `json:"persistent_id"`
	Mode               device.ModeID         `json:"mode"`
	Format             device.PixelFormat    `json:"pixel_format"`
	Connection         device.Connection     `json:"connection"`
	BufferSize         int                   `json:"buffer_size"`
	OutputStreamTime   bool                  `json:"output_stream_time"`
	SkipFirstTime      time.Duration         `json:"skip_first_time"`
	DropNoSignalFrames bool                  `json:"drop_no_signal_frames"`
	TimecodeFormat     device.TimecodeFormat `json:"timecode_format"`
	AlignmentThreshold time.Duration         `json:"alignment_threshold"`
	DiscontWait        time.Duration         `json:"discont_wait"`
	Channels           int                   `json:"channels"`
	SampleDepth        int                   `json:"sample_depth"`
	ClockOffset        time.Duration         `json:"clock_offset"`

	// Clock is the pipeline clock capture times are read from. Without it the
	// Selector is used, and without that the device clock.
	Clock    clock.Clock     `json:"-" hash:"ignore"`
	Selector *clock.Selector `json:"-" hash:"ignore"`

	MappingOptions []timing.Option          `json:"-" hash:"ignore"`
	EventHandler   EventHandler             `json:"-" hash:"ignore"`
	WaitObserver   func(wait time.Duration) `json:"-" hash:"ignore"`
}

type Option func(*Options)

func defaultOptions() Options {
	return Options{
		DeviceNumber:       DefaultDeviceNumber,
		PersistentID:       DefaultPersistentID,
		Mode:               device.ModeAuto,
		Format:             device.FormatAuto,
		Connection:         device.ConnectionAuto,
		BufferSize:         DefaultBufferSize,
		TimecodeFormat:     DefaultTimecodeFormat,
		AlignmentThreshold: DefaultAlignmentThreshold,
		DiscontWait:        DefaultDiscontWait,
		Channels:           DefaultChannels,
		SampleDepth:        DefaultSampleDepth,
	}
}

func OptionWithName(n string) Option {
	return func(o *Options) {
		o.Name = n
	}
}

func OptionWithDeviceNumber(n int) Option {
	return func(o *Options) {
		o.DeviceNumber = n
	}
}

// OptionWithPersistentID selects the device by persistent id, overriding the
// device number. -1 disables it.
func OptionWithPersistentID(id int64) Option {
	return func(o *Options) {
		o.PersistentID = id
	}
}

func OptionWithMode(m device.ModeID) Option {
	return func(o *Options) {
		o.Mode = m
	}
}

func OptionWithPixelFormat(f device.PixelFormat) Option {
	return func(o *Options) {
		o.Format = f
	}
}

func OptionWithConnection(c device.Connection) Option {
	return func(o *Options) {
		o.Connection = c
	}
}

func OptionWithBufferSize(n int) Option {
	return func(o *Options) {
		o.BufferSize = n
	}
}

func OptionWithOutputStreamTime(b bool) Option {
	return func(o *Options) {
		o.OutputStreamTime = b
	}
}

func OptionWithSkipFirstTime(d time.Duration) Option {
	return func(o *Options) {
		o.SkipFirstTime = d
	}
}

func OptionWithDropNoSignalFrames(b bool) Option {
	return func(o *Options) {
		o.DropNoSignalFrames = b
	}
}

func OptionWithTimecodeFormat(f device.TimecodeFormat) Option {
	return func(o *Options) {
		o.TimecodeFormat = f
	}
}

func OptionWithAlignmentThreshold(d time.Duration) Option {
	return func(o *Options) {
		o.AlignmentThreshold = d
	}
}

func OptionWithDiscontWait(d time.Duration) Option {
	return func(o *Options) {
		o.DiscontWait = d
	}
}

func OptionWithChannels(n int) Option {
	return func(o *Options) {
		o.Channels = n
	}
}

func OptionWithSampleDepth(n int) Option {
	return func(o *Options) {
		o.SampleDepth = n
	}
}

func OptionWithClockOffset(d time.Duration) Option {
	return func(o *Options) {
		o.ClockOffset = d
	}
}

func OptionWithClock(c clock.Clock) Option {
	return func(o *Options) {
		o.Clock = c
	}
}

func OptionWithSelector(s *clock.Selector) Option {
	return func(o *Options) {
		o.Selector = s
	}
}

func OptionWithMappingOptions(opts ...timing.Option) Option {
	return func(o *Options) {
		o.MappingOptions = append(o.MappingOptions, opts...)
	}
}

func OptionWithEventHandler(h EventHandler) Option {
	return func(o *Options) {
		o.EventHandler = h
	}
}

// OptionWithWaitObserver sees how long each Create waited for data.
func OptionWithWaitObserver(f func(time.Duration)) Option {
	return func(o *Options) {
		o.WaitObserver = f
	}
}

func (o *Options) validate(kind device.Kind) error {
	if o.BufferSize < 1 {
		return errors.Wrapf(ErrInvalidOption, "buffer_size %d", o.BufferSize)
	}

	if o.SkipFirstTime < 0 || o.AlignmentThreshold < 0 || o.DiscontWait < 0 || o.ClockOffset < 0 {
		return errors.Wrap(ErrInvalidOption, "negative duration")
	}

	if kind == device.KindAudio {
		switch o.Channels {
		case 2, 8, 16:
		default:
			return errors.Wrapf(ErrInvalidOption, "channels %d", o.Channels)
		}

		if o.SampleDepth != 16 && o.SampleDepth != 32 {
			return errors.Wrapf(ErrInvalidOption, "sample_depth %d", o.SampleDepth)
		}
	}

	return nil
}

// Fingerprint hashes the settings that change what gets captured.
func (o *Options) Fingerprint() (uint64, error) {
	return hash.Hash(o, hash.FormatV2, nil)
}

type optionKey struct {
	parse func(string) (Option, error)
	get   func(*Options) string
}

func parseBool(v string, f func(bool) Option) (Option, error) {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, err
	}

	return f(b), nil
}

func parseInt(v string, f func(int) Option) (Option, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil, err
	}

	return f(n), nil
}

func parseDuration(v string, f func(time.Duration) Option) (Option, error) {
	d, err := time.ParseDuration(v)
	if err != nil {
		return nil, err
	}

	return f(d), nil
}

var optionKeys = map[string]optionKey{
	"device_number": {
		func(v string) (Option, error) { return parseInt(v, OptionWithDeviceNumber) },
		func(o *Options) string { return strconv.Itoa(o.DeviceNumber) },
	},
	"persistent_id": {
		func(v string) (Option, error) {
			id, err := strconv.ParseInt(v, 0, 64)
			if err != nil {
				return nil, err
			}

			return OptionWithPersistentID(id), nil
		},
		func(o *Options) string { return strconv.FormatInt(o.PersistentID, 10) },
	},
	"mode": {
		func(v string) (Option, error) {
			m, err := device.ParseMode(v)
			if err != nil {
				return nil, err
			}

			return OptionWithMode(m), nil
		},
		func(o *Options) string { return o.Mode.String() },
	},
	"pixel_format": {
		func(v string) (Option, error) {
			f, err := device.ParsePixelFormat(v)
			if err != nil {
				return nil, err
			}

			return OptionWithPixelFormat(f), nil
		},
		func(o *Options) string { return o.Format.String() },
	},
	"connection": {
		func(v string) (Option, error) {
			c, err := device.ParseConnection(v)
			if err != nil {
				return nil, err
			}

			return OptionWithConnection(c), nil
		},
		func(o *Options) string { return o.Connection.String() },
	},
	"buffer_size": {
		func(v string) (Option, error) { return parseInt(v, OptionWithBufferSize) },
		func(o *Options) string { return strconv.Itoa(o.BufferSize) },
	},
	"output_stream_time": {
		func(v string) (Option, error) { return parseBool(v, OptionWithOutputStreamTime) },
		func(o *Options) string { return strconv.FormatBool(o.OutputStreamTime) },
	},
	"skip_first_time": {
		func(v string) (Option, error) { return parseDuration(v, OptionWithSkipFirstTime) },
		func(o *Options) string { return o.SkipFirstTime.String() },
	},
	"drop_no_signal_frames": {
		func(v string) (Option, error) { return parseBool(v, OptionWithDropNoSignalFrames) },
		func(o *Options) string { return strconv.FormatBool(o.DropNoSignalFrames) },
	},
	"timecode_format": {
		func(v string) (Option, error) {
			f, err := device.ParseTimecodeFormat(v)
			if err != nil {
				return nil, err
			}

			return OptionWithTimecodeFormat(f), nil
		},
		func(o *Options) string { return o.TimecodeFormat.String() },
	},
	"alignment_threshold": {
		func(v string) (Option, error) { return parseDuration(v, OptionWithAlignmentThreshold) },
		func(o *Options) string { return o.AlignmentThreshold.String() },
	},
	"discont_wait": {
		func(v string) (Option, error) { return parseDuration(v, OptionWithDiscontWait) },
		func(o *Options) string { return o.DiscontWait.String() },
	},
	"channels": {
		func(v string) (Option, error) { return parseInt(v, OptionWithChannels) },
		func(o *Options) string { return strconv.Itoa(o.Channels) },
	},
	"sample_depth": {
		func(v string) (Option, error) { return parseInt(v, OptionWithSampleDepth) },
		func(o *Options) string { return strconv.Itoa(o.SampleDepth) },
	},
	"clock_offset": {
		func(v string) (Option, error) { return parseDuration(v, OptionWithClockOffset) },
		func(o *Options) string { return o.ClockOffset.String() },
	},
}

// ParseOption turns a key/value pair, as found on a command line or in a
// control request, into an Option.
func ParseOption(key, value string) (Option, error) {
	k, ok := optionKeys[key]
	if !ok {
		return nil, errors.Wrapf(ErrInvalidOption, "unknown key %q", key)
	}

	opt, err := k.parse(value)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidOption, "%s=%q: %v", key, value, err)
	}

	return opt, nil
}

func (o *Options) Get(key string) (string, error) {
	k, ok := optionKeys[key]
	if !ok {
		return "", errors.Wrapf(ErrInvalidOption, "unknown key %q", key)
	}

	return k.get(o), nil
}

// OptionKeys lists the keys ParseOption and Get accept.
func OptionKeys() []string {
	keys := make([]string, 0, len(optionKeys))
	for k := range optionKeys {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

func (o *Options) String() string {
	return fmt.Sprintf("device=%d mode=%s format=%s connection=%s buffer=%d",
		o.DeviceNumber, o.Mode, o.Format, o.Connection, o.BufferSize)
}
