package usecase

import (
	"time"

	"flowstate/internal/domain"
	"flowstate/internal/ports"
)

// pumpFrames forwards captured frames to the socket in order until the capture closes its channel
// or a send fails. onFailure is called at most once.
func pumpFrames(
	capture ports.CaptureSession,
	socket ports.Socket,
	levelEvery time.Duration,
	onLevel func(float64),
	onActivity func(domain.VoiceActivity),
	onFailure func(error),
	done chan struct{},
) {
	defer close(done)

	frames := capture.Frames()
	activity := capture.Activity()
	var lastLevel time.Time

	for frames != nil || activity != nil {
		select {
		case frame, ok := <-frames:
			if !ok {
				frames = nil
				activity = nil
				continue
			}
			if err := socket.SendAudio(frame.PCM); err != nil {
				onFailure(err)
				drainFrames(frames)
				return
			}
			if now := time.Now(); now.Sub(lastLevel) >= levelEvery {
				lastLevel = now
				onLevel(frame.Level)
			}
		case state, ok := <-activity:
			if !ok {
				activity = nil
				continue
			}
			onActivity(state)
		}
	}
}

// drainFrames keeps the capture side from blocking after the socket has gone away.
func drainFrames(frames <-chan domain.AudioFrame) {
	go func() {
		for range frames {
		}
	}()
}

// waitForSocket waits for the remote side to close, forcing a local close after timeout.
func waitForSocket(socket ports.Socket, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-socket.Done():
	case <-timer.C:
		_ = socket.Close()
	}
	return socket.Wait()
}
