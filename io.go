package greenloop

// fdWatcher holds at most one reader and one writer for an fd.
type fdWatcher struct {
	reader *Handle
	writer *Handle
	// poll pass each handle was last queued in
	readerPass uint64
	writerPass uint64
}

func (w *fdWatcher) events() IOEvents {
	var events IOEvents
	if w.reader != nil && !w.reader.Cancelled() {
		events |= EventRead
	}
	if w.writer != nil && !w.writer.Cancelled() {
		events |= EventWrite
	}
	return events
}

// AddReader registers fn to run on the loop whenever fd is readable (or
// has an error or hangup condition). The fd must stay open until the
// reader is removed. Active watchers keep Run from returning.
// Owner-confined.
func (l *Loop) AddReader(fd int, fn func()) (*Handle, error) {
	return l.addWatcher(fd, EventRead, fn)
}

// AddWriter registers fn to run on the loop whenever fd is writable.
// Owner-confined.
func (l *Loop) AddWriter(fd int, fn func()) (*Handle, error) {
	return l.addWatcher(fd, EventWrite, fn)
}

// RemoveReader removes the reader of fd, reporting whether one was active.
// Owner-confined.
func (l *Loop) RemoveReader(fd int) bool {
	return l.removeWatcher(fd, EventRead)
}

// RemoveWriter removes the writer of fd, reporting whether one was active.
// Owner-confined.
func (l *Loop) RemoveWriter(fd int) bool {
	return l.removeWatcher(fd, EventWrite)
}

func (l *Loop) addWatcher(fd int, event IOEvents, fn func()) (*Handle, error) {
	if fn == nil {
		if event == EventRead {
			return nil, nilCallbackError("AddReader")
		}
		return nil, nilCallbackError("AddWriter")
	}
	if l.state.Load() == StateDestroyed {
		return nil, ErrLoopDestroyed
	}

	w := l.watchers[fd]
	if w != nil {
		if event == EventRead && w.reader != nil && !w.reader.Cancelled() {
			return nil, ErrReaderRegistered
		}
		if event == EventWrite && w.writer != nil && !w.writer.Cancelled() {
			return nil, ErrWriterRegistered
		}
	}

	h := l.newHandle(KindIO, fn)
	h.target = fd

	if w == nil {
		w = &fdWatcher{}
		w.set(event, h)
		if err := l.poller.RegisterFD(fd, event, func(events IOEvents) {
			l.onFDEvents(fd, events)
		}); err != nil {
			return nil, err
		}
		l.watchers[fd] = w
		return h, nil
	}

	prev := w.get(event)
	w.set(event, h)
	if err := l.poller.ModifyFD(fd, w.events()); err != nil {
		w.set(event, prev)
		return nil, err
	}
	return h, nil
}

func (l *Loop) removeWatcher(fd int, event IOEvents) bool {
	w := l.watchers[fd]
	if w == nil {
		return false
	}
	h := w.get(event)
	if h == nil {
		return false
	}
	active := !h.Cancelled()
	h.discard()
	w.set(event, nil)
	l.syncWatcher(fd, w)
	return active
}

// onFDEvents queues the watchers of fd. Called by the poller, on the loop
// goroutine, possibly more than once per fd in a pass (kqueue reports each
// filter separately), but each watcher is queued at most once per pass.
func (l *Loop) onFDEvents(fd int, events IOEvents) {
	w := l.watchers[fd]
	if w == nil {
		return
	}
	if events&(EventRead|EventError|EventHangup) != 0 && w.reader != nil && !w.reader.Cancelled() && w.readerPass != l.pollPass {
		w.readerPass = l.pollPass
		l.ready = append(l.ready, w.reader)
	}
	if events&(EventWrite|EventError|EventHangup) != 0 && w.writer != nil && !w.writer.Cancelled() && w.writerPass != l.pollPass {
		w.writerPass = l.pollPass
		l.ready = append(l.ready, w.writer)
	}
}

// pruneWatcher drops cancelled watchers of fd.
func (l *Loop) pruneWatcher(fd int) {
	w := l.watchers[fd]
	if w == nil {
		return
	}
	if w.reader != nil && w.reader.Cancelled() {
		w.reader = nil
	}
	if w.writer != nil && w.writer.Cancelled() {
		w.writer = nil
	}
	l.syncWatcher(fd, w)
}

// syncWatcher updates the poller registration of fd to match w.
func (l *Loop) syncWatcher(fd int, w *fdWatcher) {
	events := w.events()
	if events == 0 {
		delete(l.watchers, fd)
		if err := l.poller.UnregisterFD(fd); err != nil && err != ErrFDNotRegistered {
			l.logError("unregister fd failed", nil, err)
		}
		return
	}
	if err := l.poller.ModifyFD(fd, events); err != nil {
		l.logError("modify fd failed", nil, err)
	}
}

func (l *Loop) closeWatchers() {
	for fd, w := range l.watchers {
		if w.reader != nil {
			w.reader.discard()
		}
		if w.writer != nil {
			w.writer.discard()
		}
		_ = l.poller.UnregisterFD(fd)
		delete(l.watchers, fd)
	}
}

func (w *fdWatcher) get(event IOEvents) *Handle {
	if event == EventRead {
		return w.reader
	}
	return w.writer
}

func (w *fdWatcher) set(event IOEvents, h *Handle) {
	if event == EventRead {
		w.reader = h
	} else {
		w.writer = h
	}
}
