package webservice

type DSnapshotManager = dSnapshotManager
