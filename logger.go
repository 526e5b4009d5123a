package flagcore

import (
	"strconv"
	"sync"
	"time"
)

// logger is the bounded exposure-event queue. enqueue never
// blocks on network; flush is triggered either by the periodic background
// task or, non-blockingly, when the queue crosses maxQueueSize.
type logger struct {
	mu    sync.Mutex
	queue []interface{}

	maxQueueSize  int
	flushInterval time.Duration

	transport    *transport
	outputLogger *OutputLogger

	stopOnce sync.Once
	stopCh   chan struct{}

	flushWG sync.WaitGroup
	loopWG  sync.WaitGroup
}

func newLogger(transport *transport, maxQueueSize int, flushInterval time.Duration, outputLogger *OutputLogger) *logger {
	l := &logger{
		maxQueueSize:  maxQueueSize,
		flushInterval: flushInterval,
		transport:     transport,
		outputLogger:  outputLogger,
		stopCh:        make(chan struct{}),
	}
	l.loopWG.Add(1)
	go l.loop()
	return l
}

func (l *logger) enqueue(event interface{}) {
	l.mu.Lock()
	l.queue = append(l.queue, event)
	size := len(l.queue)
	l.mu.Unlock()

	if size > l.maxQueueSize {
		l.flushWG.Add(1)
		go func() {
			defer l.flushWG.Done()
			l.flush()
		}()
	}
}

// flush atomically takes the buffer and sends it; on transport error the
// events are dropped (at-most-once delivery).
func (l *logger) flush() {
	l.mu.Lock()
	if len(l.queue) == 0 {
		l.mu.Unlock()
		return
	}
	batch := l.queue
	l.queue = nil
	l.mu.Unlock()

	if err := l.transport.sendEvents(batch); err != nil {
		l.outputLogger.Error("dropping exposure batch after send failure", &LogEventError{Err: err, Events: len(batch)})
	}
}

// loop wakes on flushInterval ticks or on stopCh, whichever comes first, so
// shutdownLogger never has to wait out a stale sleep to join it.
func (l *logger) loop() {
	defer l.loopWG.Done()
	ticker := time.NewTicker(l.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.flush()
		case <-l.stopCh:
			return
		}
	}
}

// shutdownLogger stops the background loop, joins it, waits for any
// in-flight threshold-triggered flushes, then flushes once more
// synchronously to drain anything enqueued after the loop's last tick.
func (l *logger) shutdownLogger() {
	l.stopOnce.Do(func() { close(l.stopCh) })
	l.loopWG.Wait()
	l.flushWG.Wait()
	l.flush()
}

func (l *logger) logGateExposure(user User, gateName string, result *evalResult, isManual bool) {
	metadata := map[string]string{
		"gate":           gateName,
		"gateValue":      boolString(result.BoolValue),
		"ruleID":         result.RuleID,
		"reason":         result.EvaluationDetails.detailedReason(),
		"configSyncTime": int64String(result.EvaluationDetails.ConfigSyncTime),
		"initTime":       int64String(result.EvaluationDetails.InitTime),
		"serverTime":     int64String(result.EvaluationDetails.ServerTime),
	}
	if isManual {
		metadata["isManualExposure"] = "true"
	}
	l.enqueue(ExposureEvent{
		EventName:          GateExposureEventName,
		User:               user.forExposure(),
		Metadata:           metadata,
		SecondaryExposures: cleanExposures(result.SecondaryExposures),
		Time:               nowUnixMilli(),
	})
}

func (l *logger) logConfigExposure(user User, configName string, result *evalResult, isManual bool) {
	metadata := map[string]string{
		"config":         configName,
		"ruleID":         result.RuleID,
		"reason":         result.EvaluationDetails.detailedReason(),
		"configSyncTime": int64String(result.EvaluationDetails.ConfigSyncTime),
		"initTime":       int64String(result.EvaluationDetails.InitTime),
		"serverTime":     int64String(result.EvaluationDetails.ServerTime),
	}
	if isManual {
		metadata["isManualExposure"] = "true"
	}
	l.enqueue(ExposureEvent{
		EventName:          ConfigExposureEventName,
		User:               user.forExposure(),
		Metadata:           metadata,
		SecondaryExposures: cleanExposures(result.SecondaryExposures),
		Time:               nowUnixMilli(),
	})
}

func (l *logger) logLayerExposure(user User, layerName, parameterName string, result *evalResult, isManual bool) {
	metadata := map[string]string{
		"config":              layerName,
		"parameterName":       parameterName,
		"ruleID":              result.RuleID,
		"allocatedExperiment": result.ConfigDelegate,
		"reason":              result.EvaluationDetails.detailedReason(),
		"configSyncTime":      int64String(result.EvaluationDetails.ConfigSyncTime),
		"initTime":            int64String(result.EvaluationDetails.InitTime),
		"serverTime":          int64String(result.EvaluationDetails.ServerTime),
	}
	if isManual {
		metadata["isManualExposure"] = "true"
	}
	l.enqueue(ExposureEvent{
		EventName:          LayerExposureEventName,
		User:               user.forExposure(),
		Metadata:           metadata,
		SecondaryExposures: cleanExposures(result.SecondaryExposures),
		Time:               nowUnixMilli(),
	})
}

func (l *logger) logCustomEvent(event Event) {
	l.enqueue(event)
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func int64String(v int64) string {
	return strconv.FormatInt(v, 10)
}
