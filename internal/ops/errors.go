package ops

import stderrors "errors"

var errNoDaemon = stderrors.New("capture daemon is not running (start it with `eidon daemon`)")
