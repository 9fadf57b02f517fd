package vad

import "testing"

func silenceFrame() []float32 {
	return make([]float32, FrameSamples)
}

func loudFrame() []float32 {
	f := make([]float32, FrameSamples)
	for i := range f {
		if i%2 == 0 {
			f[i] = 0.8
		} else {
			f[i] = -0.8
		}
	}
	return f
}

// newTestDetector builds a Detector with a deterministic raw classifier
// (any-nonzero-sample-means-speech) instead of the real webrtcvad backend,
// so the hangover state machine is exercised without the C library.
func newTestDetector() *Detector {
	d := &Detector{}
	d.rawIsSpeechFn = func(frame []float32) bool {
		for _, s := range frame {
			if s != 0 {
				return true
			}
		}
		return false
	}
	return d
}

func TestSilenceStaysSilenceBelowMinRun(t *testing.T) {
	d := newTestDetector()
	for i := 0; i < minSpeechFrames-1; i++ {
		if d.Process(loudFrame()) {
			t.Fatalf("frame %d: expected silence before min speech run reached", i)
		}
	}
}

func TestSpeechOpensAfterMinRun(t *testing.T) {
	d := newTestDetector()
	var last bool
	for i := 0; i < minSpeechFrames; i++ {
		last = d.Process(loudFrame())
	}
	if !last {
		t.Fatal("expected speech state after minSpeechFrames consecutive loud frames")
	}
}

func TestHangoverHoldsThroughBriefSilence(t *testing.T) {
	d := newTestDetector()
	for i := 0; i < minSpeechFrames; i++ {
		d.Process(loudFrame())
	}
	if !d.Process(silenceFrame()) {
		t.Fatal("expected hangover frame to still report speech")
	}
}

func TestHangoverExpiresAfterGrace(t *testing.T) {
	d := newTestDetector()
	for i := 0; i < minSpeechFrames; i++ {
		d.Process(loudFrame())
	}
	var last bool
	for i := 0; i < hangoverFrames; i++ {
		last = d.Process(silenceFrame())
	}
	if last {
		t.Fatal("expected silence once hangover frames elapse")
	}
}

func TestSpeechDuringHangoverResetsToSpeech(t *testing.T) {
	d := newTestDetector()
	for i := 0; i < minSpeechFrames; i++ {
		d.Process(loudFrame())
	}
	d.Process(silenceFrame())
	if !d.Process(loudFrame()) {
		t.Fatal("expected speech frame during hangover to re-enter speech state")
	}
	if d.state != stateSpeech {
		t.Fatalf("state = %v, want stateSpeech", d.state)
	}
}
