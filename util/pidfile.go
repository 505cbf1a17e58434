package util

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
)

// CreatePidFile writes the process id to pidFilePath.
func CreatePidFile(logger *log.Logger, pidFilePath string) error {
	logger.Infof("Creating PID file at: %s", pidFilePath)
	fout, err := os.Create(pidFilePath)
	if err != nil {
		err = fmt.Errorf("%s: could not create pid file, %v", pidFilePath, err)
		logger.Error(err)
		return err
	}

	if _, err = fmt.Fprintf(fout, "%d", os.Getpid()); err != nil {
		fout.Close()
		err = fmt.Errorf("%s: could not write pid file, %v", pidFilePath, err)
		logger.Error(err)
		return err
	}

	if err = fout.Close(); err != nil {
		err = fmt.Errorf("%s: could not close pid file, %v", pidFilePath, err)
		logger.Error(err)
		return err
	}
	return nil
}

// RemovePidFile deletes the pid file, logging failures.
func RemovePidFile(logger *log.Logger, pidFilePath string) {
	if err := os.Remove(pidFilePath); err != nil {
		logger.WithError(err).Errorf("%s: could not remove pid file", pidFilePath)
	}
}
