package badgerbackend

import "go.uber.org/zap"

// zapAdapter satisfies badger.Logger.
type zapAdapter struct {
	s *zap.SugaredLogger
}

func newZapAdapter(logger *zap.Logger) *zapAdapter {
	return &zapAdapter{s: logger.Sugar()}
}

func (a *zapAdapter) Errorf(f string, v ...interface{})   { a.s.Errorf(f, v...) }
func (a *zapAdapter) Warningf(f string, v ...interface{}) { a.s.Warnf(f, v...) }
func (a *zapAdapter) Infof(f string, v ...interface{})    { a.s.Debugf(f, v...) }
func (a *zapAdapter) Debugf(f string, v ...interface{})   { a.s.Debugf(f, v...) }
