package handlers

import "github.com/urban-engineer/sved/video"

type fakeProber struct {
	video video.InputVideo
	err   error
}

func (p *fakeProber) ProbeFile(string, string, ...string) (video.InputVideo, error) {
	return p.video, p.err
}

func progressiveVideo(frames int64) video.InputVideo {
	return video.InputVideo{
		Tracks: []video.InputTrack{
			{Type: video.TrackTypeVideo, Frames: frames, VideoTrack: video.VideoTrack{FPS: 30, FieldOrder: "progressive"}},
		},
		Duration: 10,
	}
}
