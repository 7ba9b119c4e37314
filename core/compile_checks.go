package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ TokenCache          = (*MemoryTokenCache)(nil)
	_ RefreshTokenStore   = (*MemoryRefreshTokenStore)(nil)
	_ OAuthStateStore     = (*MemoryOAuthStateStore)(nil)
	_ AccessTokenProvider = (*RefreshCoordinator)(nil)
	_ AccessTokenProvider = (*Service)(nil)
	_ MetricsRecorder     = NopMetricsRecorder{}

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
