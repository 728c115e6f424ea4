package config

import (
	"reflect"
	"strings"
)

// ChangedSections compares two configs and names the top-level sections that
// differ. Token values never appear in the result; callers log the section
// names only.
func ChangedSections(oldCfg, newCfg *Config) []string {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	add := func(name string, differs bool) {
		if differs {
			changed = append(changed, name)
		}
	}

	add("telegram", strings.TrimSpace(oldCfg.Telegram.Token) != strings.TrimSpace(newCfg.Telegram.Token) ||
		oldCfg.Telegram.OpsChatID != newCfg.Telegram.OpsChatID ||
		oldCfg.Telegram.OpsThreadID != newCfg.Telegram.OpsThreadID)
	add("logging", !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging))
	add("storage", !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage))
	add("gamedata", !reflect.DeepEqual(oldCfg.GameData, newCfg.GameData))
	add("scheduler", !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler))
	add("dispatch", !reflect.DeepEqual(oldCfg.Dispatch, newCfg.Dispatch))
	add("windows", !reflect.DeepEqual(oldCfg.Windows, newCfg.Windows))
	add("guilds", !reflect.DeepEqual(oldCfg.Guilds, newCfg.Guilds))

	return changed
}
