package config

// ConfigBackend abstracts where settings such as the Jira base URL and the
// server port live on each platform. macOS keeps them in UserDefaults via
// the `defaults` CLI; everywhere else a JSON file under XDG_CONFIG_HOME is
// used.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}
