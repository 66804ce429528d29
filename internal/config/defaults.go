package config

const (
	defaultConfigPath              = "~/.config/docpipe/config.toml"
	defaultDataDir                 = "~/.local/share/docpipe"
	defaultScratchDir              = "~/.local/share/docpipe/scratch"
	defaultLogDir                  = "~/.local/share/docpipe/logs"
	defaultBlobRoot                = "~/.local/share/docpipe/blobs"
	defaultAPIBind                 = "127.0.0.1:7490"
	defaultIssuer                  = "docpipe"
	defaultTokenTTLHours           = 24
	defaultStorageBackend          = BackendFilesystem
	defaultStorageIOTimeout        = 60
	defaultStorageRetryAttempts    = 4
	defaultUploadConcurrency       = 4
	defaultWorkers                 = 2
	defaultQueuePollInterval       = 5
	defaultErrorRetryInterval      = 10
	defaultProcessingTimeout       = 900
	defaultSweepInterval           = 60
	defaultStaleClaimTimeout       = 1800
	defaultStatusTimeout           = 5
	defaultDispatchMode            = DispatchLocal
	defaultDispatchSource          = "docpipe/daemon"
	defaultReceiverPort            = 8080
	defaultRasterizerBinary        = "pdftoppm"
	defaultRasterDPI               = 150
	defaultLogFormat               = "console"
	defaultLogLevel                = "info"
	defaultLogRetentionDays        = 30
	defaultMaxCommentRunes         = 2000
	defaultRelaxedPDFValidation    = true
	defaultMinStaleOverProcessing  = 60
)

// Storage backends.
const (
	BackendFilesystem = "filesystem"
	BackendGCS        = "gcs"
	BackendMinIO      = "minio"
)

// Dispatch modes.
const (
	DispatchLocal       = "local"
	DispatchCloudEvents = "cloudevents"
)

// MaxCommentRunes caps free-text comments and notes on intents.
const MaxCommentRunes = defaultMaxCommentRunes

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:    defaultDataDir,
			ScratchDir: defaultScratchDir,
			LogDir:     defaultLogDir,
			APIBind:    defaultAPIBind,
		},
		Auth: Auth{
			Issuer:        defaultIssuer,
			TokenTTLHours: defaultTokenTTLHours,
		},
		Storage: Storage{
			Backend:           defaultStorageBackend,
			Root:              defaultBlobRoot,
			IOTimeout:         defaultStorageIOTimeout,
			RetryAttempts:     defaultStorageRetryAttempts,
			UploadConcurrency: defaultUploadConcurrency,
		},
		Workflow: Workflow{
			Workers:            defaultWorkers,
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			ProcessingTimeout:  defaultProcessingTimeout,
			SweepInterval:      defaultSweepInterval,
			StaleClaimTimeout:  defaultStaleClaimTimeout,
			StatusTimeout:      defaultStatusTimeout,
		},
		Dispatch: Dispatch{
			Mode:         defaultDispatchMode,
			Source:       defaultDispatchSource,
			ReceiverPort: defaultReceiverPort,
		},
		PDF: PDF{
			RasterizerBinary:  defaultRasterizerBinary,
			RasterDPI:         defaultRasterDPI,
			RelaxedValidation: defaultRelaxedPDFValidation,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
