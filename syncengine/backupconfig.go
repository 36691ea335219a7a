package syncengine

import (
	"path"

	yaml "gopkg.in/yaml.v2"

	"cryptdrive.io/core"
	"cryptdrive.io/errors"
	"cryptdrive.io/log"
)

// backupConfigRelPath is where a sync's persisted configuration lives
// under its local root, the ATTR_JSON_SYNC_CONFIG_DATA equivalent of
// §4.7.1 step 7.
const backupConfigRelPath = ".megabackup/config.yaml"

// persistedConfig is the on-disk representation of Config.
type persistedConfig struct {
	LocalRoot     string `yaml:"localroot"`
	RemoteRoot    uint64 `yaml:"remoteroot"`
	Mode          uint8  `yaml:"mode"`
	ExternalDrive string `yaml:"externaldrive"`
	BackupName    string `yaml:"backupname"`
	BackupID      string `yaml:"backupid"`
}

// SaveConfig persists s's configuration under its local root. If another
// process has raced this write (its payload differs from what's already
// on disk), the winning payload already there is adopted instead of
// overwritten, and the race is logged — §9 OQ2's decision, since the spec
// defines no signature scheme to authenticate a sync config.
func (s *Sync) SaveConfig() error {
	p := path.Join(s.Config.LocalRoot, backupConfigRelPath)
	want := toPersisted(s.Config, s.backupID)

	if existing, ok, err := loadPersistedConfig(s.fs, p); err != nil {
		return err
	} else if ok && existing != want {
		log.Error.Printf("syncengine: config race at %s, adopting existing payload", p)
		s.Config = fromPersisted(existing)
		s.backupID = existing.BackupID
		return nil
	}

	buf, err := yaml.Marshal(want)
	if err != nil {
		return errors.E("syncengine.SaveConfig", err)
	}
	if err := s.fs.Mkdir(path.Dir(p)); err != nil {
		return err
	}
	f, err := s.fs.Open(p, true)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteAt(buf, 0)
	return err
}

// LoadConfig reads a previously persisted sync configuration from under
// localRoot, or reports ok=false if none exists yet.
func LoadConfig(fs core.FileSystemAccess, localRoot string) (Config, string, bool, error) {
	p := path.Join(localRoot, backupConfigRelPath)
	pc, ok, err := loadPersistedConfig(fs, p)
	if err != nil || !ok {
		return Config{}, "", ok, err
	}
	return fromPersisted(pc), pc.BackupID, true, nil
}

func loadPersistedConfig(fs core.FileSystemAccess, p string) (persistedConfig, bool, error) {
	size, _, err := fs.Stat(p)
	if err != nil {
		if errors.Match(errors.NotExist, err) {
			return persistedConfig{}, false, nil
		}
		return persistedConfig{}, false, err
	}
	f, err := fs.Open(p, false)
	if err != nil {
		return persistedConfig{}, false, err
	}
	defer f.Close()
	buf := make([]byte, size)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return persistedConfig{}, false, err
	}
	var pc persistedConfig
	if err := yaml.Unmarshal(buf, &pc); err != nil {
		return persistedConfig{}, false, errors.E("syncengine.LoadConfig", err)
	}
	return pc, true, nil
}

func toPersisted(cfg Config, backupID string) persistedConfig {
	return persistedConfig{
		LocalRoot:     cfg.LocalRoot,
		RemoteRoot:    uint64(cfg.RemoteRoot),
		Mode:          uint8(cfg.Mode),
		ExternalDrive: cfg.ExternalDrive,
		BackupName:    cfg.BackupName,
		BackupID:      backupID,
	}
}

func fromPersisted(pc persistedConfig) Config {
	return Config{
		LocalRoot:     pc.LocalRoot,
		RemoteRoot:    core.NodeHandle(pc.RemoteRoot),
		Mode:          Mode(pc.Mode),
		ExternalDrive: pc.ExternalDrive,
		BackupName:    pc.BackupName,
	}
}
