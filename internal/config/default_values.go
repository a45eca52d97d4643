package config

const (
	DefaultProviderBaseURL    = "http://127.0.0.1:8787/api/proxy"
	DefaultProviderModel      = "deepseek-chat"
	DefaultProviderTimeoutMS  = 60000
	DefaultProviderMaxRetries = 2

	DefaultProxyListen   = "127.0.0.1:8787"
	DefaultProxyUpstream = "https://api.deepseek.com/v1"

	DefaultStorageBaseDir = "~/.quizlab"
	DefaultSessionsDB     = "sessions.db"
	DefaultKVDB           = "local_storage.db"

	DefaultDailyLimit = 500
	DefaultLogLevel   = "info"
)
