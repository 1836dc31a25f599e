package commands

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// bindFlags binds each named flag to the viper key of the same name. Flags
// only win over the environment and config file when set explicitly.
func bindFlags(v *viper.Viper, lookup func(string) *pflag.Flag, names ...string) {
	for _, name := range names {
		if f := lookup(name); f != nil {
			// BindPFlag only fails on a nil flag.
			_ = v.BindPFlag(name, f)
		}
	}
}
