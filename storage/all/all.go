package all

import (
	// Backends register themselves with storage.Register.
	_ "github.com/chainexport/csvstore/storage/local"
	_ "github.com/chainexport/csvstore/storage/s3"
)
