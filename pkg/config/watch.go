package config

import (
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Watch re-decodes the configuration whenever its file changes. Valid results are
// passed to apply; invalid ones go to reject and the running configuration stays.
func Watch(v *viper.Viper, env string, apply func(*Config), reject func(error)) {
	v.OnConfigChange(Reloader(v, env, apply, reject))
	v.WatchConfig()
}

// Reloader returns the change handler used by Watch. viper has already re-read the
// file when it runs.
func Reloader(v *viper.Viper, env string, apply func(*Config), reject func(error)) func(fsnotify.Event) {
	return func(fsnotify.Event) {
		cfg, err := Decode(v, env)
		if err != nil {
			if reject != nil {
				reject(err)
			}
			return
		}
		apply(cfg)
	}
}
